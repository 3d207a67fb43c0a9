package agent

import (
	"github.com/cubefs/cubefs/blobstore/util/log"
)

type Config struct {
	CollectorConfig CollectorConfig `json:"collector_config"`
	BufferConfig    BufferConfig    `json:"buffer_config"`
	SenderConfig    SenderConfig    `json:"sender_config"`
}

// Agent wires collector, buffer, and sender into one pipeline.
type Agent struct {
	buffer    *Buffer
	collector *Collector
	sender    *Sender
}

func NewAgent(cfg *Config) (*Agent, error) {
	buffer, err := NewBuffer(cfg.BufferConfig)
	if err != nil {
		return nil, err
	}
	collector, err := NewCollector(&cfg.CollectorConfig, nil, buffer)
	if err != nil {
		return nil, err
	}
	sender := NewSender(&cfg.SenderConfig, buffer)
	return &Agent{buffer: buffer, collector: collector, sender: sender}, nil
}

func (a *Agent) Start() {
	a.collector.Start()
	a.sender.Start()
	log.Info("agent started, watching", len(a.collector.cfg.Files), "files")
}

func (a *Agent) Stop() {
	a.collector.Stop()
	a.sender.Stop()
	a.buffer.Flush()
	log.Info("agent stopped")
}
