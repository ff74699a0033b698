package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnOpened()
		m.MessageSent("text")
		m.CallTransition("accepted", nil)
		m.PushFailed("fcm")
		m.ObserveSince("op", time.Now())
	})
}

func TestRegistryIsSingleton(t *testing.T) {
	m := Registry("marketchat_test")
	assert.Same(t, m, Registry("other"))

	m.CallTransition("accepted", nil)
	m.CallTransition("accepted", errors.New("lost race"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallTransitions.WithLabelValues("accepted", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallTransitions.WithLabelValues("accepted", "rejected")))
}
