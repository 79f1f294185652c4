package controller

import (
	"context"
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/hooking"
	"github.com/sarchlab/cosim/logging"
	"github.com/sarchlab/cosim/store"
)

func plantConfig() *config.Config {
	cfg := config.Default()
	cfg.DBPath = "unused"
	cfg.PLCs = []config.PLC{{
		Name:      "PLC1",
		Sensors:   []string{"T1"},
		Actuators: []string{"P1", "V1"},
		Attacks:   []config.Attack{{Name: "spoof"}},
	}}
	cfg.Actuators = []config.Actuator{
		{Name: "P1", InitialState: "closed"},
		{Name: "V1", InitialState: "open"},
	}
	cfg.NetworkAttacks = []config.NetworkAttack{
		{Name: "mitm", Trigger: config.Trigger{Start: 2, End: 4}},
	}

	return cfg
}

func openPlantStore(cfg *config.Config) *store.Executor {
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

var _ = Describe("PLC", func() {
	var (
		mockCtrl *gomock.Controller
		logic    *MockLogic
		ctx      context.Context
		cfg      *config.Config
		exec     *store.Executor
		plc      *PLC
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		logic = NewMockLogic(mockCtrl)
		ctx = context.Background()
		cfg = plantConfig()
		exec = openPlantStore(cfg)

		plc = MakePLCBuilder().
			WithPLC(cfg.PLCs[0]).
			WithExecutor(exec).
			WithLogic(logic).
			WithLogger(logging.Discard()).
			Build()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should hand the logic what the PLC knows", func() {
		Expect(store.SetMasterTime(ctx, exec, 7)).To(Succeed())
		Expect(store.SetPlantValues(ctx, exec, map[string]string{"T1": "42.5"})).
			To(Succeed())
		Expect(store.SetAttackFlag(ctx, exec, "spoof", true)).To(Succeed())

		logic.EXPECT().Control(gomock.Any(), Input{
			Time:      7,
			Sensors:   map[string]string{"T1": "42.5"},
			Actuators: map[string]int{"P1": 0, "V1": 1},
			Attacks:   map[string]bool{"spoof": true},
		}).Return(map[string]int{"P1": 1}, nil)

		Expect(plc.Round(ctx)).To(Succeed())
	})

	It("should write actuators and publish every tag", func() {
		Expect(store.SetPlantValues(ctx, exec, map[string]string{"T1": "3"})).
			To(Succeed())
		logic.EXPECT().Control(gomock.Any(), gomock.Any()).
			Return(map[string]int{"P1": 1, "V1": 0}, nil)

		Expect(plc.Round(ctx)).To(Succeed())

		Expect(store.PlantValues(ctx, exec, []string{"P1", "V1"})).
			To(Equal(map[string]string{"P1": "1", "V1": "0"}))
		Expect(plc.Table().Get([]string{"T1", "P1", "V1"})).
			To(Equal([]string{"3", "1", "0"}))
	})

	It("should refuse actuators of other PLCs", func() {
		logic.EXPECT().Control(gomock.Any(), gomock.Any()).
			Return(map[string]int{"P1": 1, "X9": 1}, nil)

		Expect(plc.Round(ctx)).To(MatchError(ContainSubstring("X9 is not an actuator")))
		Expect(store.PlantValue(ctx, exec, "P1")).To(Equal("0"))
		Expect(plc.Table().Get([]string{"T1"})).To(Equal([]string{"0"}))
	})

	It("should report logic failures", func() {
		broken := errors.New("broken")
		logic.EXPECT().Control(gomock.Any(), gomock.Any()).Return(nil, broken)

		Expect(plc.Round(ctx)).To(MatchError(broken))
	})

	It("should invoke hooks after a round", func() {
		logic.EXPECT().Control(gomock.Any(), gomock.Any()).
			Return(map[string]int{"P1": 1}, nil)

		var item any
		plc.AcceptHook(hooking.HookFunc(func(hctx hooking.HookCtx) {
			Expect(hctx.Pos).To(Equal(HookPosControlled))
			item = hctx.Item
		}))

		Expect(plc.Round(ctx)).To(Succeed())
		Expect(item).To(Equal(0))
	})

	It("should keep actuators with the hold logic", func() {
		hold := MakePLCBuilder().
			WithPLC(cfg.PLCs[0]).
			WithExecutor(exec).
			WithLogger(logging.Discard()).
			Build()

		Expect(hold.Round(ctx)).To(Succeed())

		Expect(store.PlantValues(ctx, exec, []string{"P1", "V1"})).
			To(Equal(map[string]string{"P1": "0", "V1": "1"}))
		Expect(hold.Table().Snapshot()).
			To(Equal(map[string]string{"T1": "0", "P1": "0", "V1": "1"}))
	})
})

var _ = Describe("Attacker", func() {
	var (
		ctx      context.Context
		exec     *store.Executor
		attacker *Attacker
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg := plantConfig()
		exec = openPlantStore(cfg)
		attacker = NewAttacker(cfg.NetworkAttacks[0], exec, logging.Discard())
	})

	It("should be active inside its trigger window only", func() {
		var seen []bool
		for t := range 6 {
			Expect(store.SetMasterTime(ctx, exec, t)).To(Succeed())
			Expect(attacker.Round(ctx)).To(Succeed())

			active, err := store.AttackFlag(ctx, exec, "mitm")
			Expect(err).NotTo(HaveOccurred())
			Expect(attacker.Active()).To(Equal(active))
			seen = append(seen, active)
		}

		Expect(seen).To(Equal([]bool{false, false, true, true, false, false}))
	})

	It("should not touch device attacks", func() {
		Expect(store.SetMasterTime(ctx, exec, 2)).To(Succeed())
		Expect(attacker.Round(ctx)).To(Succeed())

		Expect(store.AttackFlags(ctx, exec)).
			To(Equal(map[string]bool{"spoof": false, "mitm": true}))
	})
})
