package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMergeSummaryNeverDowngrades(t *testing.T) {
	st := Status{}
	st.Summary(Error, "Fault")
	st.MergeSummary(OK, "Enabled")
	st.MergeSummary(Warn, "Warning")

	assert.Equal(t, Error, st.Level)
	assert.Equal(t, "Fault; Enabled; Warning", st.Message)
}

func TestMergeSummaryEscalates(t *testing.T) {
	st := Status{}
	st.Summary(OK, "Enabled")
	st.MergeSummary(Warn, "Quickstop")
	assert.Equal(t, Warn, st.Level)

	st.MergeSummaryf(Error, "EPOS Device Error: 0x%X", 0x2310)
	assert.Equal(t, Error, st.Level)
	assert.Equal(t, "Enabled; Quickstop; EPOS Device Error: 0x2310", st.Message)
}

func TestMergeSummaryEmptyMessage(t *testing.T) {
	st := Status{}
	st.MergeSummary(Warn, "")
	assert.Equal(t, Warn, st.Level)
	assert.Empty(t, st.Message)
}

func TestSeverityJSON(t *testing.T) {
	data, err := Warn.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"WARN"`, string(data))
}

type captureSink struct {
	reports []Report
}

func (c *captureSink) PublishDiagnostics(r Report) {
	c.reports = append(c.reports, r)
}

func TestUpdaterRunsBuildersInOrder(t *testing.T) {
	u := NewUpdater("hw-1", zap.NewNop())
	var order []string
	u.Register("first", func(st *Status) {
		order = append(order, "first")
		st.Summary(OK, "fine")
	})
	u.Register("second", func(st *Status) {
		order = append(order, "second")
		st.Summary(Warn, "iffy")
	})

	sink := &captureSink{}
	u.AddSink(sink)

	report := u.Update()
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, "hw-1", report.HardwareID)
	require.Len(t, report.Statuses, 2)
	assert.Equal(t, "first", report.Statuses[0].Name)
	assert.Equal(t, Warn, report.Statuses[1].Level)

	require.Len(t, sink.reports, 1)

	latest, ok := u.Latest()
	require.True(t, ok)
	assert.Equal(t, report.ID, latest.ID)
}

func TestUpdaterLatestEmpty(t *testing.T) {
	u := NewUpdater("hw-1", zap.NewNop())
	_, ok := u.Latest()
	assert.False(t, ok)
}
