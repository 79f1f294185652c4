package simulation

import (
	"context"
	"encoding/csv"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cosim/barrier"
	"github.com/sarchlab/cosim/bridge"
	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/datarecording"
	"github.com/sarchlab/cosim/logging"
	"github.com/sarchlab/cosim/physical"
	"github.com/sarchlab/cosim/store"
)

func runConfig() *config.Config {
	dir := GinkgoT().TempDir()

	cfg := config.Default()
	cfg.DBPath = filepath.Join(dir, "sim.sqlite3")
	cfg.DBControlPath = filepath.Join(dir, "control.sqlite3")
	cfg.OutputPath = dir
	cfg.Iterations = 3
	cfg.Barrier = config.BarrierMemory
	cfg.DBSleepMin = time.Millisecond
	cfg.DBSleepMax = 2 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.Scada.CacheUpdateTime = time.Millisecond
	cfg.PLCs = []config.PLC{
		{Name: "PLC1", Sensors: []string{"T1"}, Actuators: []string{"P1"}},
		{Name: "PLC2", Sensors: []string{"T2"}},
	}
	cfg.Actuators = []config.Actuator{{Name: "P1", InitialState: "closed"}}
	cfg.NetworkAttacks = []config.NetworkAttack{
		{Name: "mitm", Trigger: config.Trigger{Start: 1, End: 2}},
	}

	return cfg
}

var heating = physical.PlantFunc(func(t int, _ map[string]string) (map[string]string, error) {
	return map[string]string{
		"T1": strconv.Itoa(t * 10),
		"T2": strconv.Itoa(t),
	}, nil
})

func readRecord(cfg *config.Config) [][]string {
	f, err := os.Open(filepath.Join(cfg.OutputPath, datarecording.DefaultName+".csv"))
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	Expect(err).NotTo(HaveOccurred())

	return rows
}

func iterations(rows [][]string) []string {
	var out []string
	for _, row := range rows[1:] {
		out = append(out, row[0])
	}

	return out
}

var _ = Describe("Simulation", func() {
	var (
		ctx context.Context
		cfg *config.Config
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = runConfig()
	})

	build := func(b Builder) *Simulation {
		s, err := b.WithConfig(cfg).WithLogger(logging.Discard()).Build(ctx)
		Expect(err).NotTo(HaveOccurred())

		return s
	}

	It("should record one row per round", func() {
		s := build(MakeBuilder().WithPlant(heating))

		Expect(s.Run(ctx)).To(Succeed())
		Expect(s.Terminate()).To(Succeed())

		rows := readRecord(cfg)
		Expect(rows).To(HaveLen(cfg.Iterations + 1))
		Expect(rows[0]).To(Equal([]string{"iteration", "timestamp", "T1", "P1", "T2"}))
		Expect(iterations(rows)).To(Equal([]string{"0", "1", "2"}))
	})

	It("should let every participant take one turn per round", func() {
		s := build(MakeBuilder().WithPlant(heating))

		Expect(s.Run(ctx)).To(Succeed())
		defer s.Terminate()

		for _, name := range cfg.Pipeline() {
			Expect(s.GetParticipantByName(name).Rounds()).
				To(Equal(cfg.Iterations), name)
		}
		Expect(s.GetParticipantByName(config.PhysicalName).Rounds()).
			To(Equal(cfg.Iterations))

		Expect(store.MasterTime(ctx, s.Executor())).To(Equal(2))
		Expect(store.PlantValue(ctx, s.Executor(), "T1")).To(Equal("20"))
		Expect(store.AttackFlag(ctx, s.Executor(), "mitm")).To(BeFalse())
		Expect(s.Barrier().Flags(ctx)).To(HaveKeyWithValue("scada", true))
	})

	It("should pick the barrier named in the configuration", func() {
		cfg.Barrier = config.BarrierSQLite
		s := build(MakeBuilder())
		defer s.Terminate()

		Expect(s.Barrier()).To(BeAssignableToTypeOf(&barrier.SQLBarrier{}))
	})

	It("should keep turns in memory when configured", func() {
		s := build(MakeBuilder())
		defer s.Terminate()

		Expect(s.Barrier()).To(BeAssignableToTypeOf(&barrier.MemoryBarrier{}))
	})

	It("should take turns through the store", func() {
		s := build(MakeBuilder().WithPlant(heating).WithStoreBarrier())

		Expect(s.Run(ctx)).To(Succeed())
		Expect(s.Terminate()).To(Succeed())

		Expect(iterations(readRecord(cfg))).To(Equal([]string{"0", "1", "2"}))
	})

	It("should stop when cancelled", func() {
		cfg.Iterations = 0
		s := build(MakeBuilder())

		ctx, cancel := context.WithCancel(ctx)
		time.AfterFunc(50*time.Millisecond, cancel)

		Expect(s.Run(ctx)).To(Succeed())
		Expect(s.Terminate()).To(Succeed())

		Expect(len(readRecord(cfg))).To(BeNumerically(">", 1))
	})

	It("should drive the plant with the agent", func() {
		cfg.UseControlAgent = true
		cfg.PLCs[0].Control = "scada"
		cfg.Env = config.Env{
			StateVars:   []string{"T1"},
			ActionVars:  []string{"P1"},
			Bounds:      map[string]config.Bound{"T1": {Min: 0, Max: 15}},
			UpdateEvery: 1,
		}

		s := build(MakeBuilder().WithPlant(heating).WithPolicy(bridge.FixedPolicy(1)))

		Expect(s.Run(ctx)).To(Succeed())
		defer s.Terminate()

		Expect(s.Scada().LastAction()).To(Equal(map[string]int{"P1": 1}))
		Expect(s.Scada().Commands().Snapshot()).To(Equal(map[string]string{"P1": "1"}))
		Expect(store.PlantValue(ctx, s.Executor(), "P1")).To(Equal("1"))
		Expect(s.Agent().Steps()).To(BeNumerically(">=", 3))
	})

	It("should serve the monitoring API", func() {
		s := build(MakeBuilder().WithMonitorPort(0))
		defer s.Terminate()

		Expect(s.MonitorURL()).NotTo(BeEmpty())

		rsp, err := http.Get(s.MonitorURL() + "/api/now")
		Expect(err).NotTo(HaveOccurred())
		rsp.Body.Close()
		Expect(rsp.StatusCode).To(Equal(http.StatusOK))
	})

	It("should refuse a participant registered twice", func() {
		s := build(MakeBuilder())
		defer s.Terminate()

		Expect(func() {
			s.RegisterParticipant("PLC1", physical.MakeDriverBuilder().
				WithExecutor(s.Executor()).
				Build())
		}).To(Panic())
		Expect(s.GetParticipantByName("PLC9")).To(BeNil())
	})

	It("should fail to build with a missing control script", func() {
		cfg.PLCs[0].Control = filepath.Join(cfg.OutputPath, "missing.star")

		_, err := MakeBuilder().WithConfig(cfg).WithLogger(logging.Discard()).Build(ctx)
		Expect(err).To(MatchError(ContainSubstring("read control script")))
	})
})
