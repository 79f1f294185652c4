package monitoring

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/cosim/hooking"
	"github.com/sarchlab/cosim/logging"
	"github.com/sarchlab/cosim/tags"
)

var (
	plc1 = tags.Source{Name: "PLC1", Address: "tcp://127.0.0.1:1", Tags: []string{"T1", "P1"}}
	plc2 = tags.Source{Name: "PLC2", Address: "tcp://127.0.0.2:1", Tags: []string{"T2"}}
)

func transportError(source string) error {
	return &tags.TransportError{Source: source, Err: errors.New("unreachable")}
}

var _ = Describe("Cache", func() {
	var (
		mockCtrl *gomock.Controller
		fetcher  *MockFetcher
		ctx      context.Context
		cache    *Cache
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		fetcher = NewMockFetcher(mockCtrl)
		ctx = context.Background()
		cache = MakeCacheBuilder().
			WithFetcher(fetcher).
			WithSources([]tags.Source{plc1, plc2}).
			WithPeriod(time.Hour).
			WithLogger(logging.Discard()).
			Build()
	})

	AfterEach(func() {
		cache.Stop()
		mockCtrl.Finish()
	})

	It("should start with zero values", func() {
		Expect(cache.Snapshot()).To(Equal(map[string][]string{
			"PLC1": {"0", "0"},
			"PLC2": {"0"},
		}))
		Expect(cache.Statuses()[0].Fetched).To(BeFalse())
	})

	It("should replace the vector of a fetched source", func() {
		fetcher.EXPECT().Fetch(gomock.Any(), plc1).Return([]string{"3.5", "1"}, nil)
		fetcher.EXPECT().Fetch(gomock.Any(), plc2).Return([]string{"7"}, nil)

		cache.Refresh(ctx)

		Expect(cache.Snapshot()).To(Equal(map[string][]string{
			"PLC1": {"3.5", "1"},
			"PLC2": {"7"},
		}))
		Expect(cache.Flatten(cache.Snapshot())).
			To(Equal([]string{"3.5", "1", "7"}))
	})

	It("should keep the last vector while a source keeps failing", func() {
		gomock.InOrder(
			fetcher.EXPECT().Fetch(gomock.Any(), plc1).Return([]string{"3.5", "1"}, nil),
			fetcher.EXPECT().Fetch(gomock.Any(), plc1).
				Return(nil, transportError("PLC1")).Times(3),
		)
		fetcher.EXPECT().Fetch(gomock.Any(), plc2).Return([]string{"7"}, nil).Times(4)

		for range 4 {
			cache.Refresh(ctx)
		}

		Expect(cache.Snapshot()["PLC1"]).To(Equal([]string{"3.5", "1"}))

		status := cache.Statuses()[0]
		Expect(status.Fetched).To(BeTrue())
		Expect(status.Failures).To(Equal(3))
		Expect(status.LastError).To(ContainSubstring("unreachable"))
		Expect(cache.Statuses()[1].Failures).To(Equal(0))
	})

	It("should reset the failure count after a success", func() {
		gomock.InOrder(
			fetcher.EXPECT().Fetch(gomock.Any(), plc1).Return(nil, transportError("PLC1")),
			fetcher.EXPECT().Fetch(gomock.Any(), plc1).Return([]string{"1", "0"}, nil),
		)
		fetcher.EXPECT().Fetch(gomock.Any(), plc2).Return([]string{"7"}, nil).Times(2)

		cache.Refresh(ctx)
		Expect(cache.Statuses()[0].Failures).To(Equal(1))
		Expect(cache.Snapshot()["PLC1"]).To(Equal([]string{"0", "0"}))

		cache.Refresh(ctx)
		Expect(cache.Statuses()[0].Failures).To(Equal(0))
		Expect(cache.Statuses()[0].LastError).To(BeEmpty())
	})

	It("should treat a short vector as a transport failure", func() {
		fetcher.EXPECT().Fetch(gomock.Any(), plc1).Return([]string{"1"}, nil)
		fetcher.EXPECT().Fetch(gomock.Any(), plc2).Return([]string{"7"}, nil)

		var failed error
		cache.AcceptHook(hooking.HookFunc(func(hctx hooking.HookCtx) {
			if hctx.Pos == HookPosFetchFailed {
				failed = hctx.Detail.(error)
			}
		}))

		cache.Refresh(ctx)

		Expect(failed).To(MatchError(tags.ErrTransport))
		Expect(cache.Snapshot()["PLC1"]).To(Equal([]string{"0", "0"}))
	})

	It("should invoke hooks with the fetched vector", func() {
		fetcher.EXPECT().Fetch(gomock.Any(), plc1).Return([]string{"1", "0"}, nil)
		fetcher.EXPECT().Fetch(gomock.Any(), plc2).Return(nil, transportError("PLC2"))

		var fetched, failed []any
		cache.AcceptHook(hooking.HookFunc(func(hctx hooking.HookCtx) {
			switch hctx.Pos {
			case HookPosFetched:
				fetched = append(fetched, hctx.Item)
				Expect(hctx.Detail).To(Equal([]string{"1", "0"}))
			case HookPosFetchFailed:
				failed = append(failed, hctx.Item)
			}
		}))

		cache.Refresh(ctx)

		Expect(fetched).To(Equal([]any{"PLC1"}))
		Expect(failed).To(Equal([]any{"PLC2"}))
	})

	It("should not share vectors with snapshots", func() {
		fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, src tags.Source) ([]string, error) {
				return make([]string, len(src.Tags)), nil
			}).Times(2)

		cache.Refresh(ctx)
		snapshot := cache.Snapshot()
		snapshot["PLC2"][0] = "changed"

		Expect(cache.Snapshot()["PLC2"]).To(Equal([]string{""}))
	})

	It("should fetch once on start and stop on Stop", func() {
		fetcher.EXPECT().Fetch(gomock.Any(), plc1).Return([]string{"1", "1"}, nil)
		fetcher.EXPECT().Fetch(gomock.Any(), plc2).Return([]string{"2"}, nil)

		cache.Start(ctx)
		cache.Start(ctx)

		Expect(cache.Snapshot()["PLC1"]).To(Equal([]string{"1", "1"}))

		cache.Stop()
		cache.Stop()
	})
})

var _ = Describe("Cache refresh loop", func() {
	It("should refresh every period until stopped", func() {
		var calls atomic.Int32
		fetcher := fetcherFunc(func(_ context.Context, src tags.Source) ([]string, error) {
			calls.Add(1)
			return make([]string, len(src.Tags)), nil
		})

		cache := MakeCacheBuilder().
			WithFetcher(fetcher).
			WithSources([]tags.Source{plc2}).
			WithPeriod(5 * time.Millisecond).
			WithLogger(logging.Discard()).
			Build()

		cache.Start(context.Background())
		Eventually(calls.Load).Should(BeNumerically(">=", 3))

		cache.Stop()
		stopped := calls.Load()
		Consistently(calls.Load, 50*time.Millisecond).Should(Equal(stopped))
	})

	It("should stop when the context is cancelled", func() {
		fetcher := fetcherFunc(func(_ context.Context, src tags.Source) ([]string, error) {
			return make([]string, len(src.Tags)), nil
		})

		cache := MakeCacheBuilder().
			WithFetcher(fetcher).
			WithSources([]tags.Source{plc2}).
			WithPeriod(time.Millisecond).
			WithLogger(logging.Discard()).
			Build()

		ctx, cancel := context.WithCancel(context.Background())
		cache.Start(ctx)
		cancel()

		Eventually(cache.done).Should(BeClosed())
		cache.Stop()
	})

	It("should stop without ever starting", func() {
		cache := MakeCacheBuilder().
			WithFetcher(tags.NewNetwork()).
			WithLogger(logging.Discard()).
			Build()

		cache.Stop()
		cache.Start(context.Background())
	})
})

type fetcherFunc func(ctx context.Context, src tags.Source) ([]string, error)

func (f fetcherFunc) Fetch(ctx context.Context, src tags.Source) ([]string, error) {
	return f(ctx, src)
}
