package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_CreatesZeroValueState(t *testing.T) {
	r := NewRegistry()

	created := r.Register("abc", "Alice")
	require.True(t, created)

	states := r.Snapshot()
	require.Len(t, states, 1)
	assert.Equal(t, "abc", states[0].ID)
	assert.Equal(t, "Alice", states[0].DisplayName)
	assert.Equal(t, 0, states[0].LastHeartRate)
	assert.True(t, states[0].LastUpdateTime.IsZero())
	assert.True(t, states[0].LastChangedTime.IsZero())
}

func TestRegister_Idempotent(t *testing.T) {
	r := NewRegistry()

	require.True(t, r.Register("abc", "Alice"))
	// 重复注册不产生新条目，仅更新显示名
	require.False(t, r.Register("abc", "Bob"))

	states := r.Snapshot()
	require.Len(t, states, 1)
	assert.Equal(t, "Bob", states[0].DisplayName)
}

func TestRegister_EmptyNameKeepsExisting(t *testing.T) {
	r := NewRegistry()

	r.Register("abc", "Alice")
	r.Register("abc", "")

	states := r.Snapshot()
	require.Len(t, states, 1)
	assert.Equal(t, "Alice", states[0].DisplayName)
}

func TestApplyReading_UnknownIDIgnored(t *testing.T) {
	r := NewRegistry()

	applied := r.ApplyReading("ghost", 70, time.Now())
	assert.False(t, applied)
	assert.Empty(t, r.Snapshot())
}

func TestApplyReading_RepeatedValueOnlyAdvancesUpdateTime(t *testing.T) {
	r := NewRegistry()
	r.Register("abc", "Alice")

	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	require.True(t, r.ApplyReading("abc", 60, t0))

	// 相同数值重复到达：LastChangedTime 只在首次出现时设置一次
	for i := 1; i <= 5; i++ {
		r.ApplyReading("abc", 60, t0.Add(time.Duration(i)*time.Second))
	}

	st := r.Snapshot()[0]
	assert.Equal(t, 60, st.LastHeartRate)
	assert.Equal(t, t0, st.LastChangedTime)
	assert.Equal(t, t0.Add(5*time.Second), st.LastUpdateTime)
}

func TestApplyReading_ChangingValueTracksBothTimes(t *testing.T) {
	r := NewRegistry()
	r.Register("abc", "Alice")

	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	// 每条消息数值都变化：LastChangedTime 始终等于 LastUpdateTime
	for i, hr := range []int{60, 62, 61, 65} {
		now := t0.Add(time.Duration(i) * time.Second)
		r.ApplyReading("abc", hr, now)

		st := r.Snapshot()[0]
		assert.Equal(t, hr, st.LastHeartRate)
		assert.Equal(t, st.LastUpdateTime, st.LastChangedTime)
	}
}

func TestApplyReading_ZeroIsATrackedValue(t *testing.T) {
	r := NewRegistry()
	r.Register("abc", "Alice")

	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	r.ApplyReading("abc", 60, t0)
	// 读数归零（如信号丢失）也是一次数值变化
	r.ApplyReading("abc", 0, t0.Add(time.Second))

	st := r.Snapshot()[0]
	assert.Equal(t, 0, st.LastHeartRate)
	assert.Equal(t, t0.Add(time.Second), st.LastChangedTime)
}

func TestFresh_BoundaryIsInclusive(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	threshold := 8 * time.Second

	st := State{LastChangedTime: t0}

	// 恰好等于阈值仍然新鲜，超过阈值才过期
	assert.True(t, st.Fresh(t0.Add(threshold), threshold))
	assert.False(t, st.Fresh(t0.Add(threshold+time.Millisecond), threshold))
}

func TestSnapshot_ReturnsCopies(t *testing.T) {
	r := NewRegistry()
	r.Register("abc", "Alice")
	r.ApplyReading("abc", 60, time.Now())

	states := r.Snapshot()
	states[0].LastHeartRate = 999

	assert.Equal(t, 60, r.Snapshot()[0].LastHeartRate)
}

func TestSnapshot_SortedByID(t *testing.T) {
	r := NewRegistry()
	r.Register("charlie", "C")
	r.Register("alpha", "A")
	r.Register("bravo", "B")

	states := r.Snapshot()
	require.Len(t, states, 3)
	assert.Equal(t, "alpha", states[0].ID)
	assert.Equal(t, "bravo", states[1].ID)
	assert.Equal(t, "charlie", states[2].ID)

	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, r.IDs())
}
