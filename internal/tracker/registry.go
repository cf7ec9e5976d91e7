package tracker

import (
	"sort"
	"sync"
	"time"
)

// State 单个 tracker 的新鲜度状态
// LastChangedTime 只在心率数值发生变化时推进，是过期判断的锚点：
// 数值长期不变（如信号丢失后上游反复推送最后一次读数）最终会被判为过期
type State struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"display_name"`
	LastHeartRate   int       `json:"last_heart_rate"` // 0 表示尚无读数，永不落库
	LastUpdateTime  time.Time `json:"last_update_time"`
	LastChangedTime time.Time `json:"last_changed_time"`
}

// Fresh 判断给定阈值下状态是否仍然新鲜
// 比较为严格大于阈值才算过期：恰好等于阈值仍视为新鲜
func (s State) Fresh(now time.Time, threshold time.Duration) bool {
	return now.Sub(s.LastChangedTime) <= threshold
}

// Registry tracker 注册表，进程内唯一的可变状态源
// 互斥锁保护：ApplyReading/Register 与 Snapshot 可并发调用
type Registry struct {
	mu     sync.Mutex
	states map[string]*State
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		states: make(map[string]*State),
	}
}

// Register 注册 tracker，幂等
// 已存在时仅更新显示名（name 非空时），返回 false；
// 首次注册创建零值状态，返回 true，调用方负责配置回写和频道加入
func (r *Registry) Register(id, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.states[id]; ok {
		if name != "" {
			st.DisplayName = name
		}
		return false
	}

	r.states[id] = &State{
		ID:          id,
		DisplayName: name,
	}
	return true
}

// ApplyReading 应用一条心率读数
// 未注册的 id 静默忽略，返回 false。LastUpdateTime 无条件推进；
// LastChangedTime 和 LastHeartRate 仅在数值变化时更新
func (r *Registry) ApplyReading(id string, heartRate int, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[id]
	if !ok {
		return false
	}

	st.LastUpdateTime = now
	if heartRate != st.LastHeartRate {
		st.LastHeartRate = heartRate
		st.LastChangedTime = now
	}
	return true
}

// Snapshot 返回所有 tracker 状态的副本，按 ID 排序
func (r *Registry) Snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]State, 0, len(r.states))
	for _, st := range r.states {
		states = append(states, *st)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
	return states
}

// IDs 返回所有已注册的 tracker ID，按 ID 排序
// 连接建立时用于批量加入频道
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.states))
	for id := range r.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
