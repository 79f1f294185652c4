package monitoring

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/datarecording"
	"github.com/sarchlab/cosim/logging"
	"github.com/sarchlab/cosim/store"
	"github.com/sarchlab/cosim/tags"
)

var recordTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func monitorConfig() *config.Config {
	cfg := config.Default()
	cfg.DBPath = "unused"
	cfg.PLCs = []config.PLC{
		{Name: "PLC1", Sensors: []string{"T1"}, Actuators: []string{"P1"}, PublicIP: "127.0.0.1"},
		{Name: "PLC2", Sensors: []string{"T2"}, PublicIP: "127.0.0.2"},
	}
	cfg.Actuators = []config.Actuator{{Name: "P1", InitialState: "open"}}

	return cfg
}

func openMonitorStore(cfg *config.Config) *store.Executor {
	db, err := store.Open(
		filepath.Join(GinkgoT().TempDir(), "sim.sqlite3"), store.DriverCgo)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(db.Close)

	exec := store.MakeExecutorBuilder().
		WithLogger(logging.Discard()).
		Build(db)
	Expect(store.InitSimulation(context.Background(), exec, cfg)).To(Succeed())

	return exec
}

func readCSV(path string) [][]string {
	f, err := os.Open(path)
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	Expect(err).NotTo(HaveOccurred())

	return rows
}

var _ = Describe("Scada", func() {
	var (
		ctx      context.Context
		cfg      *config.Config
		exec     *store.Executor
		network  *tags.Network
		plant1   *tags.Table
		recorder datarecording.Recorder
	)

	build := func(bridge Exchanger) *Scada {
		var err error
		recorder, err = datarecording.MakeBuilder().
			WithDir(GinkgoT().TempDir()).
			WithTags(cfg.RecordedTags()).
			WithLogger(logging.Discard()).
			Build()
		Expect(err).NotTo(HaveOccurred())

		cache := MakeCacheBuilder().
			WithFetcher(network).
			WithSources(Sources(cfg)).
			WithPeriod(time.Hour).
			WithLogger(logging.Discard()).
			Build()

		b := MakeScadaBuilder().
			WithConfig(cfg).
			WithExecutor(exec).
			WithCache(cache).
			WithRecorder(recorder).
			WithLogger(logging.Discard()).
			WithClock(func() time.Time { return recordTime })
		if bridge != nil {
			b = b.WithBridge(bridge)
		}

		s := b.Build()
		DeferCleanup(s.Close)

		return s
	}

	BeforeEach(func() {
		ctx = context.Background()
		cfg = monitorConfig()
		exec = openMonitorStore(cfg)

		network = tags.NewNetwork()
		plant1 = tags.NewTable(map[string]string{"T1": "21.5", "P1": "1"})
		network.Serve("PLC1", plant1)
		network.Serve("PLC2", tags.NewTable(map[string]string{"T2": "3"}))
	})

	It("should source every PLC at its public address", func() {
		sources := Sources(cfg)

		Expect(sources).To(HaveLen(2))
		Expect(sources[1].Address).To(Equal("tcp://127.0.0.2:44818"))
		Expect(sources[0].Tags).To(Equal([]string{"T1", "P1"}))
	})

	It("should seed the command table with initial states", func() {
		Expect(NewCommandTable(cfg).Snapshot()).To(Equal(map[string]string{"P1": "1"}))
		Expect(CommandSource(cfg).Tags).To(Equal([]string{"P1"}))
	})

	It("should record one row per round", func() {
		s := build(nil)

		Expect(s.Round(ctx)).To(Succeed())
		Expect(store.SetMasterTime(ctx, exec, 1)).To(Succeed())
		plant1.Set(map[string]string{"T1": "22"})
		s.cache.Refresh(ctx)
		Expect(s.Round(ctx)).To(Succeed())
		Expect(s.Close()).To(Succeed())

		timestamp := recordTime.Format(time.RFC3339Nano)
		Expect(readCSV(recorder.Path())).To(Equal([][]string{
			{"iteration", "timestamp", "T1", "P1", "T2"},
			{"0", timestamp, "21.5", "1", "3"},
			{"1", timestamp, "22", "1", "3"},
		}))
		Expect(s.Clock()).To(Equal(1))
		Expect(s.Progress().Progress().Finished).To(BeEquivalentTo(2))
	})

	It("should flush at the saving interval", func() {
		cfg.SavingInterval = 2
		s := build(nil)

		for clock := range 2 {
			Expect(store.SetMasterTime(ctx, exec, clock)).To(Succeed())
			Expect(s.Round(ctx)).To(Succeed())
		}
		Expect(readCSV(recorder.Path())).To(HaveLen(1))

		Expect(store.SetMasterTime(ctx, exec, 2)).To(Succeed())
		Expect(s.Round(ctx)).To(Succeed())
		Expect(readCSV(recorder.Path())).To(HaveLen(4))
	})

	It("should keep recording the last values of an unreachable PLC", func() {
		s := build(nil)
		Expect(s.Round(ctx)).To(Succeed())

		network.SetDown("PLC2", true)
		s.cache.Refresh(ctx)
		Expect(s.Round(ctx)).To(Succeed())
		Expect(s.Close()).To(Succeed())

		rows := readCSV(recorder.Path())
		Expect(rows).To(HaveLen(3))
		Expect(rows[2][4]).To(Equal("3"))
		Expect(s.Cache().Statuses()[1].Failures).To(Equal(1))
	})

	Context("with a control bridge", func() {
		var (
			mockCtrl  *gomock.Controller
			exchanger *MockExchanger
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			exchanger = NewMockExchanger(mockCtrl)
			cfg.Env.UpdateEvery = 2
		})

		It("should exchange sensor values on update ticks", func() {
			s := build(exchanger)

			exchanger.EXPECT().
				Exchange(gomock.Any(), 0, map[string]float64{"T1": 21.5, "T2": 3}).
				Return(map[string]int{"P1": 0}, nil)

			Expect(s.Round(ctx)).To(Succeed())

			Expect(store.SetMasterTime(ctx, exec, 1)).To(Succeed())
			Expect(s.Round(ctx)).To(Succeed())

			Expect(s.Commands().Snapshot()).To(Equal(map[string]string{"P1": "0"}))
			Expect(s.LastAction()).To(Equal(map[string]int{"P1": 0}))
		})

		It("should skip sensor values that are not numbers", func() {
			s := build(exchanger)
			plant1.Set(map[string]string{"T1": "high"})

			exchanger.EXPECT().
				Exchange(gomock.Any(), 0, map[string]float64{"T2": 3}).
				Return(map[string]int{"P1": 1}, nil)

			Expect(s.Round(ctx)).To(Succeed())
		})

		It("should fail the round when the exchange fails", func() {
			s := build(exchanger)
			broken := errors.New("broken")

			exchanger.EXPECT().Exchange(gomock.Any(), 0, gomock.Any()).Return(nil, broken)

			Expect(s.Round(ctx)).To(MatchError(broken))
			Expect(s.Progress().Progress().Finished).To(BeZero())
		})
	})
})
