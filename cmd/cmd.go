// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/cubefs/cubefs/blobstore/common/config"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"

	"github.com/cubefs/docdb/agent"
	"github.com/cubefs/docdb/server"
)

const (
	RoleServer = "server"
	RoleAgent  = "agent"
)

// Config service config
type Config struct {
	server.Config

	Roles         []string     `json:"roles"`
	BindPort      uint32       `json:"bind_port"`
	AgentConfig   agent.Config `json:"agent_config"`
	MaxProcessors int          `json:"max_processors"`
	LogLevel      log.Level    `json:"log_level"`
}

func main() {
	config.Init("f", "", "docdb.json")

	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		log.Fatal(errors.Detail(err))
	}

	initConfig(cfg)
	log.SetOutputLevel(cfg.LogLevel)

	var (
		srv *server.Server
		ag  *agent.Agent
	)
	for _, role := range cfg.Roles {
		switch role {
		case RoleServer:
			s, err := server.NewServer(context.Background(), &cfg.Config)
			if err != nil {
				log.Fatalf("new server failed: %s", errors.Detail(err))
			}
			if err := s.Serve(":" + strconv.Itoa(int(cfg.BindPort))); err != nil {
				log.Fatalf("serve failed: %s", err)
			}
			srv = s
		case RoleAgent:
			a, err := agent.NewAgent(&cfg.AgentConfig)
			if err != nil {
				log.Fatalf("new agent failed: %s", errors.Detail(err))
			}
			a.Start()
			ag = a
		default:
			log.Fatalf("unknown role: %s", role)
		}
	}

	// wait for signal
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	<-ch

	if ag != nil {
		ag.Stop()
	}
	if srv != nil {
		srv.Stop()
	}
}

func initConfig(cfg *Config) {
	if len(cfg.Roles) == 0 {
		cfg.Roles = []string{RoleServer}
	}
	if cfg.BindPort == 0 {
		cfg.BindPort = 9090
	}
	if cfg.CatalogConfig.Path == "" {
		cfg.CatalogConfig.Path = "./run/db"
	}
	if cfg.AgentConfig.SenderConfig.Address == "" {
		cfg.AgentConfig.SenderConfig.Address = "127.0.0.1:" + strconv.Itoa(int(cfg.BindPort))
	}
	if cfg.AgentConfig.BufferConfig.DiskBackup && cfg.AgentConfig.BufferConfig.DiskPath == "" {
		cfg.AgentConfig.BufferConfig.DiskPath = "./run/agent/buffer"
	}
	if cfg.MaxProcessors > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcessors)
	}
}
