package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/langchou/waygazer/internal/acquisition"
	"github.com/langchou/waygazer/internal/alert"
	"github.com/langchou/waygazer/internal/background"
	"github.com/langchou/waygazer/internal/config"
	"github.com/langchou/waygazer/internal/matcher"
	"github.com/langchou/waygazer/internal/models"
	"github.com/langchou/waygazer/internal/observability"
	"github.com/langchou/waygazer/internal/provider"
	"github.com/langchou/waygazer/internal/refresh"
	"github.com/langchou/waygazer/internal/routegraph"
)

// 会话状态
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateStopping = "stopping"
)

const (
	eventStart   = "start"
	eventStop    = "stop"
	eventStopped = "stopped"
)

const (
	fetchTimeout   = 15 * time.Second
	persistTimeout = 5 * time.Second
)

// GraphFetcher 路径图获取端
type GraphFetcher interface {
	FetchRouteGraph(ctx context.Context, lat, lon float64) (*models.RouteGraph, error)
}

// SessionStore 会话记录持久化
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.TrackingSession) error
	FinishSession(ctx context.Context, s *models.TrackingSession) error
}

// AlertStore 限速事件持久化
type AlertStore interface {
	InsertEvent(ctx context.Context, e *models.SpeedLimitEvent) error
}

// 会话内部消息类型
type msgKind int

const (
	msgFix msgKind = iota
	msgFetchDone
	msgProviderErr
	msgPermission
)

// message 投递到会话事件循环的消息
// 定位点、拉取结果、权限变化都收敛到一个 goroutine 里处理，
// 引擎状态（路径图、匹配结果、在途标记）不需要加锁
type message struct {
	kind     msgKind
	fix      models.Fix
	graph    *models.RouteGraph
	graphErr error
	reqFix   models.Fix
	provErr  error
	perm     provider.PermissionState
}

// Session 追踪会话编排器
// 串起采集控制、地图匹配、刷新策略、限速播报与后台保活，
// 同一时间最多一个活动会话
type Session struct {
	logger  *zap.Logger
	cfg     *config.Config
	prov    provider.Provider
	fetcher GraphFetcher
	ext     background.Extension

	sessions SessionStore
	alerts   AlertStore

	matcher *matcher.Matcher
	policy  *refresh.Policy

	// mu 串行化 Start/Stop/前后台切换；事件循环不允许获取 mu
	mu             sync.Mutex
	fsm            *fsm.FSM
	record         *models.TrackingSession
	trackCfg       models.TrackingConfig
	ctrl           *acquisition.Controller
	bg             *background.Manager
	wantBackground bool

	msgCh  chan message
	stopCh chan struct{}
	wg     sync.WaitGroup

	// 事件循环私有状态，只在循环 goroutine 里读写
	sessionID      string
	announcer      *alert.Announcer
	graph          *models.RouteGraph
	lastMatch      models.MatchResult
	lastRequestFix *models.Fix
	fetchInFlight  bool

	// 状态快照，供 Status 读取
	snapMu    sync.Mutex
	snapFix   *models.Fix
	snapMatch models.MatchResult

	subMu       sync.Mutex
	subscribers []chan Event
}

// New 创建会话编排器
// ext 为 nil 时不做后台执行授权管理（纯前台部署）
func New(
	logger *zap.Logger,
	cfg *config.Config,
	prov provider.Provider,
	fetcher GraphFetcher,
	ext background.Extension,
	sessions SessionStore,
	alerts AlertStore,
) *Session {
	s := &Session{
		logger:   logger,
		cfg:      cfg,
		prov:     prov,
		fetcher:  fetcher,
		ext:      ext,
		sessions: sessions,
		alerts:   alerts,
		matcher: matcher.New(matcher.Tuning{
			BaseThresholdM: cfg.MatchBaseThresholdM,
			MaxThresholdM:  cfg.MatchMaxThresholdM,
			ConfidenceMin:  cfg.MatchConfidenceMin,
			StickyBonus:    cfg.MatchStickyBonus,
			MovingBonus:    cfg.MatchMovingBonus,
			Window:         cfg.MatchWindow,
			IndexPenalty:   matcher.DefaultTuning().IndexPenalty,
		}),
		policy:    refresh.New(cfg.RefreshDistanceM),
		lastMatch: models.Unmatched(),
		snapMatch: models.Unmatched(),
	}

	s.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{StateIdle}, Dst: StateRunning},
			{Name: eventStop, Src: []string{StateRunning}, Dst: StateStopping},
			{Name: eventStopped, Src: []string{StateStopping}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if e.Src != e.Dst {
					logger.Info("Session state changed",
						zap.String("from", e.Src),
						zap.String("to", e.Dst))
				}
			},
		},
	)

	return s
}

// State 当前会话状态
func (s *Session) State() string {
	return s.fsm.Current()
}

// Start 启动追踪会话，幂等：已在运行时返回当前会话记录
// 后台模式要求 always 权限，不满足时同步返回 ErrPermission，会话保持空闲
func (s *Session) Start(ctx context.Context, trackCfg models.TrackingConfig) (*models.TrackingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fsm.Current() != StateIdle {
		s.logger.Info("Session already running, start is a no-op")
		return s.record, nil
	}

	if trackCfg.Interval <= 0 {
		trackCfg.Interval = s.cfg.DefaultInterval
	}
	if trackCfg.DistanceFilterM <= 0 {
		trackCfg.DistanceFilterM = s.cfg.DefaultDistanceFilterM
	}

	if trackCfg.BackgroundMode && s.prov.PermissionState() != provider.PermissionAlways {
		return nil, fmt.Errorf("%w: current permission %q", ErrPermission, s.prov.PermissionState())
	}

	record := &models.TrackingSession{
		ID:           uuid.NewString(),
		BackgroundOn: trackCfg.BackgroundMode,
		IntervalMs:   trackCfg.Interval.Milliseconds(),
		StartedAt:    time.Now(),
	}

	// 重置引擎状态，路径图不跨会话复用
	s.trackCfg = trackCfg
	s.record = record
	s.sessionID = record.ID
	s.announcer = alert.NewAnnouncer(s.cfg.AlertCooldown, s.cfg.EmitLimitCleared)
	s.graph = nil
	s.lastMatch = models.Unmatched()
	s.lastRequestFix = nil
	s.fetchInFlight = false
	s.setSnapshot(nil, models.Unmatched())

	s.msgCh = make(chan message, 64)
	s.stopCh = make(chan struct{})

	s.ctrl = acquisition.New(s.logger, s.prov, trackCfg, s.onAcceptedFix, s.onProviderError)
	record.Mode = s.ctrl.Mode()

	if s.ext != nil {
		s.bg = background.NewManager(
			s.logger, s.ext,
			s.cfg.GrantWindow, s.cfg.GrantRenewAhead,
			s.cfg.DeferDistanceM, 2*trackCfg.Interval,
			func() {
				s.broadcast(Event{Kind: EventError, ErrKind: ErrKindGrantDenied,
					Message: "background execution grant denied, continuing best-effort"})
			},
		)
	}

	if err := s.ctrl.Start(ctx); err != nil {
		s.bg = nil
		return nil, fmt.Errorf("start acquisition: %w", err)
	}

	if err := s.fsm.Event(ctx, eventStart); err != nil {
		s.ctrl.Stop()
		s.bg = nil
		return nil, fmt.Errorf("session transition: %w", err)
	}

	s.wg.Add(2)
	go s.loop()
	go s.watchPermissions()

	if s.sessions != nil {
		pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := s.sessions.CreateSession(pctx, record); err != nil {
			s.logger.Warn("Failed to persist session record", zap.Error(err))
		}
		cancel()
	}

	// 宿主已在后台：立即走进入后台流程
	if s.wantBackground && trackCfg.BackgroundMode {
		s.applyBackgroundLocked(true)
	}

	s.logger.Info("Tracking session started",
		zap.String("session_id", record.ID),
		zap.String("mode", record.Mode),
		zap.Bool("background", trackCfg.BackgroundMode),
		zap.Duration("interval", trackCfg.Interval))

	return record, nil
}

// Stop 停止追踪会话，幂等：空闲时返回上一条会话记录
// 返回前保证不再有事件流出，队列里未处理的消息直接丢弃
func (s *Session) Stop(ctx context.Context) (*models.TrackingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fsm.Current() != StateRunning {
		s.logger.Info("Session not running, stop is a no-op")
		return s.record, nil
	}

	if err := s.fsm.Event(ctx, eventStop); err != nil {
		return nil, fmt.Errorf("session transition: %w", err)
	}

	// 先停采集再关循环：Stop 返回后不再有定位点进入队列
	s.ctrl.Stop()
	if s.bg != nil {
		s.bg.Stop()
		s.bg = nil
	}
	close(s.stopCh)
	s.wg.Wait()

	accepted, dropped := s.ctrl.Counts()
	now := time.Now()
	s.record.EndedAt = &now
	s.record.AcceptedFixes = accepted
	s.record.DroppedFixes = dropped

	if s.sessions != nil {
		pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := s.sessions.FinishSession(pctx, s.record); err != nil {
			s.logger.Warn("Failed to persist session record", zap.Error(err))
		}
		cancel()
	}

	if err := s.fsm.Event(ctx, eventStopped); err != nil {
		return nil, fmt.Errorf("session transition: %w", err)
	}

	s.logger.Info("Tracking session stopped",
		zap.String("session_id", s.record.ID),
		zap.Int64("accepted", accepted),
		zap.Int64("dropped", dropped))

	return s.record, nil
}

// OnAppBackground 宿主应用转入后台
// 会话空闲时只记录意愿，下次启动时立即生效
func (s *Session) OnAppBackground() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wantBackground = true
	if s.fsm.Current() != StateRunning || !s.trackCfg.BackgroundMode {
		return
	}
	s.applyBackgroundLocked(true)
}

// OnAppForeground 宿主应用回到前台
func (s *Session) OnAppForeground() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wantBackground = false
	if s.fsm.Current() != StateRunning {
		return
	}
	s.applyBackgroundLocked(false)
}

func (s *Session) applyBackgroundLocked(bg bool) {
	if bg {
		if s.bg != nil {
			s.bg.EnterBackground()
		}
		s.ctrl.SetBackground(true)
		return
	}
	if s.bg != nil {
		s.bg.EnterForeground()
	}
	s.ctrl.SetBackground(false)
}

// Status 会话状态快照
type Status struct {
	State      string                  `json:"state"`
	Session    *models.TrackingSession `json:"session,omitempty"`
	LastFix    *models.Fix             `json:"last_fix,omitempty"`
	LastMatch  models.MatchResult      `json:"last_match"`
	Background bool                    `json:"background"`
}

// Status 当前状态快照
func (s *Session) Status() Status {
	s.mu.Lock()
	record := s.record
	background := s.wantBackground && s.trackCfg.BackgroundMode
	s.mu.Unlock()

	s.snapMu.Lock()
	fix := s.snapFix
	match := s.snapMatch
	s.snapMu.Unlock()

	return Status{
		State:      s.fsm.Current(),
		Session:    record,
		LastFix:    fix,
		LastMatch:  match,
		Background: background,
	}
}

// Subscribe 订阅会话事件流
func (s *Session) Subscribe() chan Event {
	ch := make(chan Event, 32)
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subMu.Unlock()
	return ch
}

// Unsubscribe 取消订阅
func (s *Session) Unsubscribe(ch chan Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// broadcast 向所有订阅者发送事件，跳过慢消费者
func (s *Session) broadcast(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// onAcceptedFix 采集控制器放行回调，转投到事件循环
func (s *Session) onAcceptedFix(fix models.Fix) {
	s.post(message{kind: msgFix, fix: fix})
}

// onProviderError 采集控制器错误回调
func (s *Session) onProviderError(err error) {
	s.post(message{kind: msgProviderErr, provErr: err})
}

func (s *Session) post(m message) {
	select {
	case s.msgCh <- m:
	case <-s.stopCh:
	}
}

// loop 会话事件循环，引擎状态的唯一写入者
func (s *Session) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case m := <-s.msgCh:
			switch m.kind {
			case msgFix:
				s.handleFix(m.fix)
			case msgFetchDone:
				s.handleFetchDone(m.graph, m.graphErr, m.reqFix)
			case msgProviderErr:
				s.handleProviderError(m.provErr)
			case msgPermission:
				s.handlePermission(m.perm)
			}
		}
	}
}

// watchPermissions 权限变化转投到事件循环
// 退出时注销通知流，跨会话重启不残留死通道
func (s *Session) watchPermissions() {
	defer s.wg.Done()

	ch := s.prov.PermissionChanges()
	defer s.prov.ClosePermissionChanges(ch)

	for {
		select {
		case <-s.stopCh:
			return
		case state, ok := <-ch:
			if !ok {
				return
			}
			s.post(message{kind: msgPermission, perm: state})
		}
	}
}

// handleFix 处理一个已放行的定位点：匹配、播报、刷新判定
func (s *Session) handleFix(fix models.Fix) {
	match := s.matcher.Match(fix, s.graph, s.lastMatch)

	if match.Matched() {
		observability.MatchesTotal.WithLabelValues("matched").Inc()
		observability.MatchConfidence.Observe(match.Confidence)
	} else {
		observability.MatchesTotal.WithLabelValues("unmatched").Inc()
	}

	// 限速播报只在匹配路段变化的边沿评估
	if match.Matched() && match.SegmentIndex != s.lastMatch.SegmentIndex {
		if s.lastMatch.Matched() {
			observability.SegmentTransitions.Inc()
		}
		seg := &s.graph.Segments[match.SegmentIndex]
		if ev := s.announcer.OnSegmentChanged(seg); ev != nil {
			s.emitAlert(ev, fix)
		}
	}

	s.lastMatch = match
	s.setSnapshot(&fix, match)

	s.broadcast(Event{Kind: EventAcceptedFix, Fix: &fix, Match: &match})

	if s.policy.ShouldRefresh(fix, refresh.Input{
		GraphPresent:   s.graph != nil,
		LastMatch:      s.lastMatch,
		LastRequestFix: s.lastRequestFix,
		InFlight:       s.fetchInFlight,
	}) {
		s.startFetch(fix)
	}
}

// startFetch 发起路径图请求，同一时间最多一个在途
// 拉取 goroutine 可能跨越会话停止，投递通道按本次会话捕获
func (s *Session) startFetch(fix models.Fix) {
	s.fetchInFlight = true
	msgCh, stopCh := s.msgCh, s.stopCh
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		graph, err := s.fetcher.FetchRouteGraph(ctx, fix.Latitude, fix.Longitude)
		select {
		case msgCh <- message{kind: msgFetchDone, graph: graph, graphErr: err, reqFix: fix}:
		case <-stopCh:
		}
	}()
}

// handleFetchDone 路径图请求完成
// 失败保留旧图继续匹配；成功整体替换并清空匹配与播报记忆
func (s *Session) handleFetchDone(graph *models.RouteGraph, err error, reqFix models.Fix) {
	s.fetchInFlight = false

	if err != nil {
		errKind := ErrKindFetchFailure
		result := "failed"
		if errors.Is(err, routegraph.ErrInvalidPayload) {
			errKind = ErrKindInvalidGraph
			result = "invalid"
		}
		observability.RouteRefreshes.WithLabelValues(result).Inc()
		s.logger.Warn("Route graph refresh failed", zap.Error(err))
		s.broadcast(Event{Kind: EventError, ErrKind: errKind, Message: err.Error()})
		return
	}

	observability.RouteRefreshes.WithLabelValues("ok").Inc()

	s.graph = graph
	s.lastRequestFix = &reqFix
	s.lastMatch = models.Unmatched()
	// 新图替换后首个带限速的路段必须重新播报
	s.announcer.Reset()

	s.logger.Info("Route graph replaced",
		zap.Int("segments", len(graph.Segments)),
		zap.Int("alerts", len(graph.Alerts)))
}

// handleProviderError 提供者暂时无定位点，异步上报，不终止会话
func (s *Session) handleProviderError(err error) {
	s.broadcast(Event{Kind: EventError, ErrKind: ErrKindProviderUnavailable, Message: err.Error()})
}

// handlePermission 运行中权限降级：上报但由宿主决定是否停止
// trackCfg 在会话启动后不再变化，事件循环直接读取
func (s *Session) handlePermission(state provider.PermissionState) {
	s.logger.Info("Location permission changed", zap.String("state", string(state)))

	if s.trackCfg.BackgroundMode && state != provider.PermissionAlways {
		s.broadcast(Event{Kind: EventError, ErrKind: ErrKindPermission,
			Message: fmt.Sprintf("background tracking degraded, permission is %q", state)})
	}
}

// emitAlert 发出限速事件并持久化
func (s *Session) emitAlert(ev *alert.Event, fix models.Fix) {
	observability.SpeedLimitAlerts.WithLabelValues(ev.Kind).Inc()

	kind := EventSpeedLimitChanged
	if ev.Kind == models.SpeedLimitEventCleared {
		kind = EventSpeedLimitCleared
	}
	s.broadcast(Event{Kind: kind, LimitKph: ev.LimitKph})

	s.logger.Info("Speed limit event",
		zap.String("kind", ev.Kind),
		zap.Int("limit_kph", ev.LimitKph),
		zap.String("segment_id", ev.Segment.ID))

	if s.alerts == nil {
		return
	}
	record := &models.SpeedLimitEvent{
		SessionID:  s.sessionID,
		Kind:       ev.Kind,
		LimitKph:   ev.LimitKph,
		SegmentID:  ev.Segment.ID,
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		OccurredAt: time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.alerts.InsertEvent(ctx, record); err != nil {
		s.logger.Warn("Failed to persist speed limit event", zap.Error(err))
	}
}

func (s *Session) setSnapshot(fix *models.Fix, match models.MatchResult) {
	s.snapMu.Lock()
	s.snapFix = fix
	s.snapMatch = match
	s.snapMu.Unlock()
}
