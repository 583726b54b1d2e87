package chat

import (
	"sync"
	"time"

	"PPRoom/logger"
	"PPRoom/module/chat/model"
	"PPRoom/tools/errs"

	"go.uber.org/zap"
)

type ManagerConf struct {
	IdleTimeout time.Duration    // close sessions silent for this long (<=0 disables)
	SweepEvery  time.Duration    // sweep period
	Clock       func() time.Time // nil => time.Now
	// OnLive runs for every session that survived a sweep, outside the table lock.
	OnLive func(*Session)
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 30 * time.Second
	}
}

// ConnManager is the node-wide table of live sessions, indexed by session id and user.
type ConnManager struct {
	mu     sync.RWMutex
	bySnow map[string]*Session
	byUser map[model.UserID]map[string]*Session
	closed bool

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
	gwId     string
}

func NewConnManager(conf ManagerConf, gwId string) *ConnManager {
	conf.norm()
	m := &ConnManager{
		bySnow: make(map[string]*Session),
		byUser: make(map[model.UserID]map[string]*Session),
		conf:   conf,
		gwId:   gwId,
		stopCh: make(chan struct{}),
	}
	go m.sweeper()
	return m
}

func (m *ConnManager) GwId() string { return m.gwId }

// Add registers s. It fails once the table is shutting down.
func (m *ConnManager) Add(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errs.ErrSessionClosed.WrapMsg("server shutting down")
	}
	if _, exists := m.bySnow[s.ID()]; exists {
		return errs.ErrSessionClosed.WrapMsg("duplicate session id", "session", s.ID())
	}
	m.bySnow[s.ID()] = s
	uid := s.User().ID
	if m.byUser[uid] == nil {
		m.byUser[uid] = make(map[string]*Session)
	}
	m.byUser[uid][s.ID()] = s
	return nil
}

func (m *ConnManager) Remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.bySnow[s.ID()]; !ok || cur != s {
		return
	}
	delete(m.bySnow, s.ID())
	uid := s.User().ID
	if mm := m.byUser[uid]; mm != nil {
		delete(mm, s.ID())
		if len(mm) == 0 {
			delete(m.byUser, uid)
		}
	}
}

// ListUser returns the user's live sessions on this node.
func (m *ConnManager) ListUser(user model.UserID) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byUser[user]
	out := make([]*Session, 0, len(mm))
	for _, s := range mm {
		out = append(out, s)
	}
	return out
}

func (m *ConnManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySnow)
}

// CloseAll refuses new sessions, stops the sweeper and asks every live session
// to close. Entries are removed by each session's own teardown.
func (m *ConnManager) CloseAll(reason error) int {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	m.closed = true
	all := make([]*Session, 0, len(m.bySnow))
	for _, s := range m.bySnow {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.Close(reason)
	}
	return len(all)
}

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.sweepOnce(m.conf.Clock())
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) (idle int) {
	var expired, live []*Session

	// collect under the lock, act outside it
	m.mu.RLock()
	for _, s := range m.bySnow {
		if m.conf.IdleTimeout > 0 && now.Sub(s.LastActivity()) > m.conf.IdleTimeout {
			expired = append(expired, s)
		} else {
			live = append(live, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range expired {
		logger.Log.Info("[CM] idle session closed", zap.String("session", s.ID()),
			zap.Duration("idle", now.Sub(s.LastActivity())))
		s.Close(errs.ErrSessionClosed.WrapMsg("idle timeout"))
	}
	if m.conf.OnLive != nil {
		for _, s := range live {
			m.conf.OnLive(s)
		}
	}
	return len(expired)
}
