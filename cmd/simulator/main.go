// Command simulator feeds the transaction stream with synthetic retail
// payment traffic: mostly normal transfers, seeded with burst, amount
// structuring, dormant-wakeup and circular-ring patterns so every
// detection path has something to find.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fraudnet/backend/internal/config"
	"github.com/fraudnet/backend/internal/models"
	"github.com/fraudnet/backend/internal/stream"
)

// Indian metro coordinates for plausible geo spread.
var cities = [][2]float64{
	{19.0760, 72.8777}, // Mumbai
	{28.7041, 77.1025}, // Delhi
	{12.9716, 77.5946}, // Bengaluru
	{13.0827, 80.2707}, // Chennai
	{22.5726, 88.3639}, // Kolkata
	{17.3850, 78.4867}, // Hyderabad
	{18.5204, 73.8567}, // Pune
}

var deviceOSes = []string{"Android 14", "Android 13", "Android 12", "iOS 17.4", "iOS 16.7"}

type population struct {
	users   []string
	mules   []string
	devices []string
	ips     []string
}

type simulator struct {
	queue  stream.Stream
	cfg    config.SimulatorConfig
	pop    population
	rng    *rand.Rand
	logger *slog.Logger

	sent    int
	dropped int
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfgPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	tps := flag.Int("tps", 0, "override transactions per second")
	total := flag.Int("total", 0, "override total transactions (0 keeps config value)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}
	if *tps > 0 {
		cfg.Simulator.TPS = *tps
	}
	if *total > 0 {
		cfg.Simulator.TotalTx = *total
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("interrupted, stopping")
		cancel()
	}()

	queue := stream.NewRedisStream(rdb, cfg.Redis.StreamKey, cfg.Redis.ConsumerGroup, logger)

	sim := &simulator{
		queue:  queue,
		cfg:    cfg.Simulator,
		pop:    buildPopulation(cfg.Simulator),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger,
	}
	sim.run(ctx)

	logger.Info("simulation finished", "sent", sim.sent, "dropped", sim.dropped)
}

func buildPopulation(cfg config.SimulatorConfig) population {
	pop := population{}
	muleCount := int(float64(cfg.UserCount) * cfg.MuleRatio)
	for i := 0; i < cfg.UserCount; i++ {
		id := fmt.Sprintf("user_%03d", i)
		if i < muleCount {
			pop.mules = append(pop.mules, id)
		} else {
			pop.users = append(pop.users, id)
		}
	}
	for i := 0; i < cfg.DeviceCount; i++ {
		pop.devices = append(pop.devices, fmt.Sprintf("device_%03d", i))
	}
	// A handful of public IPs, reused so ASN density builds up.
	for i := 0; i < cfg.DeviceCount*2; i++ {
		pop.ips = append(pop.ips, fmt.Sprintf("49.36.%d.%d", i%250+1, (i*37)%250+1))
	}
	return pop
}

func (s *simulator) run(ctx context.Context) {
	interval := time.Second / time.Duration(s.cfg.TPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("simulation started",
		"tps", s.cfg.TPS, "total", s.cfg.TotalTx,
		"users", s.cfg.UserCount, "mules", len(s.pop.mules))

	for s.sent < s.cfg.TotalTx {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		switch p := s.rng.Float64(); {
		case p < 0.02 && len(s.pop.mules) >= 3:
			s.emitCircularRing(ctx)
		case p < 0.05 && len(s.pop.mules) > 0:
			s.emitBurst(ctx)
		case p < 0.08:
			s.emitStructuring(ctx)
		case p < 0.10:
			s.emitDormantWakeup(ctx)
		default:
			s.emit(ctx, s.normalTx())
		}
	}
}

func (s *simulator) emit(ctx context.Context, tx *models.TransactionInput) {
	payload, err := tx.MarshalJSON()
	if err != nil {
		s.dropped++
		return
	}
	if _, err := s.queue.Append(ctx, payload); err != nil {
		s.dropped++
		s.logger.Warn("append failed", "tx_id", tx.TxID, "error", err)
		return
	}
	s.sent++
	if s.sent%1000 == 0 {
		s.logger.Info("progress", "sent", s.sent)
	}
}

func (s *simulator) baseTx(sender, receiver string, amount float64) *models.TransactionInput {
	city := cities[s.rng.Intn(len(cities))]
	return &models.TransactionInput{
		TxID:           uuid.NewString(),
		SenderID:       sender,
		ReceiverID:     receiver,
		Amount:         amount,
		Timestamp:      time.Now().UTC(),
		DeviceHash:     s.pop.devices[s.rng.Intn(len(s.pop.devices))],
		DeviceOS:       deviceOSes[s.rng.Intn(len(deviceOSes))],
		IPAddress:      s.pop.ips[s.rng.Intn(len(s.pop.ips))],
		SenderLat:      city[0] + s.rng.Float64()*0.05,
		SenderLon:      city[1] + s.rng.Float64()*0.05,
		Channel:        "UPI",
		CredentialType: "PIN",
		CredentialSub:  models.CredentialMPIN,
		Currency:       "INR",
		TxnType:        "P2P",
	}
}

func (s *simulator) pickUser() string {
	return s.pop.users[s.rng.Intn(len(s.pop.users))]
}

func (s *simulator) pickMule() string {
	return s.pop.mules[s.rng.Intn(len(s.pop.mules))]
}

// normalTx is a plausible everyday payment, log-normal-ish amounts.
func (s *simulator) normalTx() *models.TransactionInput {
	sender := s.pickUser()
	receiver := s.pickUser()
	for receiver == sender {
		receiver = s.pickUser()
	}
	amount := 50 + s.rng.Float64()*s.rng.Float64()*5000
	return s.baseTx(sender, receiver, amount)
}

// emitBurst fires a rapid fan-out from one mule, the relay signature.
func (s *simulator) emitBurst(ctx context.Context) {
	mule := s.pickMule()
	n := 5 + s.rng.Intn(8)
	for i := 0; i < n && s.sent < s.cfg.TotalTx; i++ {
		s.emit(ctx, s.baseTx(mule, s.pickUser(), 2000+s.rng.Float64()*8000))
	}
}

// emitStructuring sends repeated near-identical amounts under a round
// threshold from one sender.
func (s *simulator) emitStructuring(ctx context.Context) {
	sender := s.pickUser()
	receiver := s.pickMule()
	amount := 4999.0
	for i := 0; i < 3 && s.sent < s.cfg.TotalTx; i++ {
		s.emit(ctx, s.baseTx(sender, receiver, amount))
	}
}

// emitDormantWakeup is one large transfer from a user that otherwise
// never transacts in this run.
func (s *simulator) emitDormantWakeup(ctx context.Context) {
	sender := fmt.Sprintf("dormant_%03d", s.rng.Intn(10))
	s.emit(ctx, s.baseTx(sender, s.pickMule(), 20000+s.rng.Float64()*30000))
}

// emitCircularRing routes one amount through three mules back to the
// origin within seconds.
func (s *simulator) emitCircularRing(ctx context.Context) {
	a, b, c := s.pickMule(), s.pickMule(), s.pickMule()
	if a == b || b == c || a == c {
		return
	}
	amount := 10000 + s.rng.Float64()*15000
	s.emit(ctx, s.baseTx(a, b, amount))
	s.emit(ctx, s.baseTx(b, c, amount*0.95))
	s.emit(ctx, s.baseTx(c, a, amount*0.90))
}
