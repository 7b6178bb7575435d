package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Fetcher 向源站发起请求。实现负责自身的超时与重试。
type Fetcher interface {
	Fetch(req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(req *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(req *http.Request) (*http.Response, error) { return f(req) }

// Controller 是外部旁路开关。Active 为 true 时网关对所有请求直连源站。
type Controller interface {
	Active() bool
}

// Switch 是可在运行期切换的 Controller。
type Switch struct {
	on atomic.Bool
}

func NewSwitch(active bool) *Switch {
	s := &Switch{}
	s.on.Store(active)
	return s
}

func (s *Switch) Active() bool { return s.on.Load() }

func (s *Switch) Set(active bool) { s.on.Store(active) }

// Options 描述 Gateway 的依赖。Fetcher/Store/Ledger 必填，其余有默认值。
type Options struct {
	Fetcher    Fetcher
	Store      *Store
	Ledger     *Ledger
	Classifier *Classifier
	Validator  *Validator
	Bypass     Controller
	Trigger    Trigger
	Logger     *logrus.Logger
	MaxItems   int
	PruneChunk int
	Now        func() time.Time
}

// Gateway 拦截请求，按缓存状态决定直接回源、命中返回或回源后入库。
type Gateway struct {
	fetcher    Fetcher
	store      *Store
	ledger     *Ledger
	classifier *Classifier
	validator  *Validator
	bypass     Controller
	trigger    Trigger
	evictor    *Evictor
	logger     *logrus.Logger
	now        func() time.Time

	inflight   atomic.Int64
	background sync.WaitGroup
	counters   counters
}

type counters struct {
	hits               atomic.Int64
	misses             atomic.Int64
	passThrough        atomic.Int64
	fallbacks          atomic.Int64
	stored             atomic.Int64
	rejected           atomic.Int64
	revalidations      atomic.Int64
	revalidateFailures atomic.Int64
}

func New(opts Options) (*Gateway, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Store == nil || opts.Ledger == nil {
		return nil, errors.New("store and ledger are required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Classifier == nil {
		c, err := NewClassifier(DefaultClassifierConfig())
		if err != nil {
			return nil, err
		}
		opts.Classifier = c
	}
	if opts.Validator == nil {
		opts.Validator = NewValidator(DefaultValidatorConfig())
	}
	if opts.Trigger == nil {
		opts.Trigger = ProbabilityTrigger(DefaultMaintenanceProbability)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gateway{
		fetcher:    opts.Fetcher,
		store:      opts.Store,
		ledger:     opts.Ledger,
		classifier: opts.Classifier,
		validator:  opts.Validator,
		bypass:     opts.Bypass,
		trigger:    opts.Trigger,
		evictor:    NewEvictor(opts.Store, opts.Ledger, opts.Logger, opts.MaxItems, opts.PruneChunk),
		logger:     opts.Logger,
		now:        opts.Now,
	}, nil
}

// Handle 处理一次请求。
//
// 旁路开启、非 GET 或非静态资源时原样交给 Fetcher；命中时返回条目副本并在后台
// 刷新账本与重新校验；未命中时同步回源，校验通过后入库。缓存层内部的任何故障
// 都退化为直连源站，回源错误原样返回。
func (g *Gateway) Handle(req *http.Request) (*http.Response, error) {
	g.inflight.Add(1)
	defer g.inflight.Add(-1)

	if g.bypassed() || req == nil || !g.classifier.IsCacheable(req) {
		g.counters.passThrough.Add(1)
		return g.fetcher.Fetch(req)
	}
	key, err := KeyForRequest(req)
	if err != nil {
		g.counters.passThrough.Add(1)
		return g.fetcher.Fetch(req)
	}

	entry, ok, err := g.lookup(req.Context(), key)
	if err != nil {
		g.counters.fallbacks.Add(1)
		g.logger.WithFields(logrus.Fields{
			"action": "cache_fallback",
			"key":    string(key),
		}).WithError(err).Warn("cache_fallback")
		return g.fetcher.Fetch(req)
	}
	if ok {
		g.counters.hits.Add(1)
		resp := entry.Response(req)
		resp.Header.Set(CacheStatusHeader, "hit")
		outbound := revalidationRequest(req)
		g.spawn(func() { g.revalidate(outbound, key) })
		return resp, nil
	}

	g.counters.misses.Add(1)
	resp, err := g.fetcher.Fetch(req)
	if err != nil {
		return nil, err
	}
	return g.admit(req.Context(), key, resp), nil
}

// lookup 把存储层的 panic 转换为错误，调用方据此直连源站。
func (g *Gateway) lookup(ctx context.Context, key Key) (entry Entry, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cache lookup panic: %v", r)
		}
	}()
	entry, ok = g.store.Get(ctx, key)
	return entry, ok, nil
}

// admit 读完 body 并尝试入库，返回的响应 body 可以重新读取。
func (g *Gateway) admit(ctx context.Context, key Key, resp *http.Response) *http.Response {
	resp.Header.Set(CacheStatusHeader, "miss")
	if !g.validator.IsCacheable(MetaFromResponse(resp)) {
		g.counters.rejected.Add(1)
		return resp
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		// 让调用方读到与直连相同的前缀和错误。
		resp.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), errReader{readErr}))
		return resp
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	g.persist(ctx, key, resp, body)
	return resp
}

func (g *Gateway) persist(ctx context.Context, key Key, resp *http.Response, body []byte) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.WithFields(logrus.Fields{
				"action": "cache_store",
				"key":    string(key),
			}).Errorf("cache_store_panic: %v", r)
		}
	}()

	ctx = context.WithoutCancel(ctx)
	if err := g.store.Put(ctx, key, NewEntry(resp, body, g.now())); err != nil {
		g.logger.WithFields(logrus.Fields{
			"action": "cache_store",
			"key":    string(key),
		}).WithError(err).Warn("cache_store_failed")
		return
	}
	g.counters.stored.Add(1)
	g.ledger.Touch(ctx, key)
	g.maybeMaintain(key)
}

// revalidationRequest 在返回调用方之前同步复制请求。调用方拿到响应后可以复用或修改原请求，
// 后台任务只能持有这份副本。
func revalidationRequest(req *http.Request) *http.Request {
	outbound := req.Clone(context.WithoutCancel(req.Context()))
	outbound.Body = http.NoBody
	outbound.ContentLength = 0
	outbound.GetBody = nil
	return outbound
}

// revalidate 在后台刷新账本，并用一次新的回源结果替换条目。失败时保留旧条目。
func (g *Gateway) revalidate(outbound *http.Request, key Key) {
	ctx := outbound.Context()
	g.ledger.Touch(ctx, key)
	g.counters.revalidations.Add(1)

	resp, err := g.fetcher.Fetch(outbound)
	if err != nil {
		g.counters.revalidateFailures.Add(1)
		g.logger.WithFields(logrus.Fields{
			"action": "revalidate",
			"key":    string(key),
		}).WithError(err).Debug("revalidate_failed")
		return
	}
	defer resp.Body.Close()

	if !g.validator.IsCacheable(MetaFromResponse(resp)) {
		return
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		g.counters.revalidateFailures.Add(1)
		return
	}
	if err := g.store.Put(ctx, key, NewEntry(resp, body, g.now())); err != nil {
		g.counters.revalidateFailures.Add(1)
		return
	}
	g.ledger.Touch(ctx, key)
	g.maybeMaintain(key)
}

func (g *Gateway) maybeMaintain(key Key) {
	if !g.trigger.Fire() {
		return
	}
	g.spawn(func() { g.evictor.Maintain(context.Background(), key) })
}

// spawn 运行后台任务，Wait 可等待其结束；panic 只记录日志。
func (g *Gateway) spawn(fn func()) {
	g.background.Add(1)
	go func() {
		defer g.background.Done()
		defer func() {
			if r := recover(); r != nil {
				g.logger.WithFields(logrus.Fields{"action": "cache_background"}).
					Errorf("cache_background_panic: %v", r)
			}
		}()
		fn()
	}()
}

func (g *Gateway) bypassed() bool {
	return g.bypass != nil && g.bypass.Active()
}

// Wait 阻塞直到当前所有后台任务（账本刷新、重新校验、淘汰）结束。
func (g *Gateway) Wait() {
	g.background.Wait()
}

// Busy 表示仍有请求在处理中。
func (g *Gateway) Busy() bool {
	return g.inflight.Load() > 0
}

// Maintain 立即执行一次淘汰。
func (g *Gateway) Maintain(ctx context.Context) []Key {
	return g.evictor.Maintain(ctx)
}

// RunIdleMaintenance 在空闲时周期性淘汰，直到 ctx 结束。
func (g *Gateway) RunIdleMaintenance(ctx context.Context, interval time.Duration) {
	g.evictor.RunIdle(ctx, interval, g.Busy)
}

// Purge 清空全部条目与账本。
func (g *Gateway) Purge(ctx context.Context) error {
	err := g.store.Clear(ctx)
	g.ledger.Clear(ctx)
	if err != nil {
		return fmt.Errorf("purge cache store: %w", err)
	}
	g.logger.WithFields(logrus.Fields{"action": "cache_purge"}).Info("cache_purged")
	return nil
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
