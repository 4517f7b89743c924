package lattice

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// CellSummary is the compact form of a sample result published on the
// combined topic
type CellSummary struct {
	SampleID   string        `json:"sampleId"`
	Lattice    LatticeParams `json:"lattice"`
	NumPeaks   int           `json:"numPeaks"`
	NumIndexed int           `json:"numIndexed"`
	Form       int           `json:"form,omitempty"`
	CellType   CellType      `json:"cellType,omitempty"`
	Centering  Centering     `json:"centering,omitempty"`
	Error      float64       `json:"error"`
	Timestamp  int64         `json:"timestamp"`
}

// Summarize reduces a result to its best cell
func Summarize(res SampleResult) CellSummary {
	s := CellSummary{
		SampleID:   res.SampleID,
		Lattice:    res.Index.Lattice,
		NumPeaks:   res.NumPeaks,
		NumIndexed: res.Index.NumIndexed,
		Timestamp:  res.Timestamp,
	}
	if best, ok := res.BestCell(); ok {
		s.Form = best.Form
		s.CellType = best.CellType
		s.Centering = best.Centering
		s.Error = best.Error
	}
	return s
}

// Publisher publishes indexing results to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	summaries     map[string]CellSummary
	mu            sync.RWMutex
}

// NewPublisher creates a result publisher writing under prefix
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "ubindex"
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true,
		summaries:     make(map[string]CellSummary),
	}
}

// PublishResult publishes a sample's full result to {prefix}/{sample} and
// the summaries of all samples seen so far to {prefix}/results
func (p *Publisher) PublishResult(res SampleResult) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	p.mu.Lock()
	p.summaries[res.SampleID] = Summarize(res)
	p.mu.Unlock()

	topic := fmt.Sprintf("%s/%s", p.publishPrefix, res.SampleID)
	if err := p.publishJSON(topic, res); err != nil {
		return err
	}
	logger.Infow("published result", "sample", res.SampleID, "topic", topic)

	return p.publishCombined()
}

func (p *Publisher) publishCombined() error {
	summaries := p.Summaries()
	if len(summaries) == 0 {
		return nil
	}

	message := map[string]interface{}{
		"samples":   summaries,
		"timestamp": time.Now().Unix(),
	}
	return p.publishJSON(fmt.Sprintf("%s/results", p.publishPrefix), message)
}

func (p *Publisher) publishJSON(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// Summaries returns the known summaries ordered by sample ID
func (p *Publisher) Summaries() []CellSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]CellSummary, 0, len(p.summaries))
	for _, s := range p.summaries {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SampleID < out[j].SampleID })
	return out
}

// ClearSample forgets a sample's summary
func (p *Publisher) ClearSample(sampleID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.summaries, sampleID)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages are retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
