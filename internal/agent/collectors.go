package agent

import (
	"context"
)

// collectorAdapter wraps the agent's singletons to satisfy
// relay.Collectors, so the relay push loop pulls from exactly the
// same state the HTTP API and local alert history expose.
type collectorAdapter struct {
	a *Agent
}

func (c *collectorAdapter) CollectMetrics() (any, bool) {
	snap, ok := c.a.hist.GetLatest()
	if !ok {
		return nil, false
	}
	return snap, true
}

func (c *collectorAdapter) CollectProcesses() (any, bool) {
	grouped, err := c.a.procScan.Grouped(context.Background(), 0)
	if err != nil {
		return nil, false
	}
	return grouped, true
}

func (c *collectorAdapter) CollectNewAlerts(lastCount int) ([]any, int) {
	all := c.a.alerts.GetAlerts(0)
	total := len(all)
	if lastCount >= total {
		return nil, total
	}
	fresh := all[:total-lastCount]
	out := make([]any, len(fresh))
	for i, a := range fresh {
		out[i] = a
	}
	return out, total
}

func (c *collectorAdapter) CollectOOM() (any, bool) {
	result := c.a.oomPred.Predict()
	return result, true
}

func (c *collectorAdapter) CollectTraining() (any, bool) {
	tasks := c.a.trainDet.GetDetectedTasks()
	if len(tasks) == 0 {
		return nil, false
	}
	return tasks, true
}

func (c *collectorAdapter) CollectHealth() (any, bool) {
	score := c.a.llm.GetHealth(nil, nil, nil, "")
	if score.HealthScore == 0 && len(score.Components) == 0 {
		return nil, false
	}
	return score, true
}
