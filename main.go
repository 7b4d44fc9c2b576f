/*
 * Copyright 2024 The httprecorder authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *       http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/arkivar/httprecorder/pkg/cdpsource"
	"github.com/arkivar/httprecorder/pkg/gateway"
	"github.com/arkivar/httprecorder/pkg/logger"
	"github.com/arkivar/httprecorder/pkg/metrics"
	"github.com/arkivar/httprecorder/pkg/sink"
	"github.com/arkivar/httprecorder/pkg/tabs"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	pflag.BoolP("help", "h", false, "Usage instructions")
	pflag.String("browser-ws", "ws://localhost:3000", "websocket endpoint of the browser to instrument")
	pflag.String("session-id", "", "correlation id stamped on every record. A random id is generated when empty.")
	pflag.Bool("capture-scripts", false, "capture response bodies of script content")
	pflag.Bool("capture-all-content", false, "capture all response bodies")
	pflag.String("self-origin", "", "origin prefix of instrumentation-generated traffic to discard")
	pflag.Duration("buffer-max-age", 5*time.Minute, "max age of an unconsumed correlation buffer")

	pflag.String("db-type", "rethinkdb", "record store type, available types are rethinkdb and sqlite")
	pflag.String("db-host", "localhost", "RethinkDB host")
	pflag.Int("db-port", 28015, "RethinkDB port")
	pflag.String("db-name", "httprecorder", "RethinkDB database name")
	pflag.String("db-user", "", "RethinkDB user")
	pflag.String("db-password", "", "RethinkDB password")
	pflag.Duration("db-query-timeout", 10*time.Second, "timeout for a single database query")
	pflag.String("db-file", "records.db", "SQLite database file when db-type is sqlite")

	pflag.String("metrics-interface", "", "interface the metrics server listens to. No value means all interfaces.")
	pflag.Int("metrics-port", 9153, "port the metrics server listens to")
	pflag.String("metrics-path", "/metrics", "path of the metrics endpoint")

	pflag.String("log-level", "info", "log level, available levels are panic, fatal, error, warn, info, debug and trace")
	pflag.String("log-formatter", "logfmt", "log formatter, available values are logfmt and json")
	pflag.Bool("log-method", false, "log method name")

	pflag.Parse()

	replacer := strings.NewReplacer("-", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		log.Fatalf("Could not parse flags: %s", err)
	}

	if viper.GetBool("help") {
		pflag.Usage()
		return
	}

	if err := logger.InitLog(
		viper.GetString("log-level"),
		viper.GetString("log-formatter"),
		viper.GetBool("log-method"),
	); err != nil {
		log.Fatalf("Could not initialize logs: %v", err)
	}

	ms := metrics.NewMetricsServer(viper.GetString("metrics-interface"), viper.GetInt("metrics-port"), viper.GetString("metrics-path"))
	if err := ms.Start(); err != nil {
		log.Fatalf("Could not start metrics server: %v", err)
	}
	defer ms.Close()

	var recordSink sink.Sink
	switch viper.GetString("db-type") {
	case "rethinkdb":
		rs := sink.NewRethinkSink(sink.RethinkOptions{
			Host:               viper.GetString("db-host"),
			Port:               viper.GetInt("db-port"),
			Database:           viper.GetString("db-name"),
			Username:           viper.GetString("db-user"),
			Password:           viper.GetString("db-password"),
			QueryTimeout:       viper.GetDuration("db-query-timeout"),
			MaxOpenConnections: 10,
		})
		if err := rs.Connect(); err != nil {
			log.Fatalf("Could not connect to database: %v", err)
		}
		defer rs.Close()
		recordSink = rs
	case "sqlite":
		ss, err := sink.NewSQLiteSink(viper.GetString("db-file"))
		if err != nil {
			log.Fatalf("Could not open database: %v", err)
		}
		defer ss.Close()
		recordSink = ss
	default:
		log.Fatalf("Unknown db type: %v", viper.GetString("db-type"))
	}

	sessionID := viper.GetString("session-id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	tabCache := tabs.NewCache()
	source := cdpsource.New(viper.GetString("browser-ws"), tabCache)
	if err := source.Connect(context.Background()); err != nil {
		log.Fatalf("Could not connect to browser: %v", err)
	}
	defer source.Close()

	gw := gateway.New(source, recordSink,
		gateway.WithTabs(tabCache),
		gateway.WithBufferMaxAge(viper.GetDuration("buffer-max-age")),
	)
	if err := gw.Start(gateway.Config{
		SessionID:         sessionID,
		CaptureScripts:    viper.GetBool("capture-scripts"),
		CaptureAllContent: viper.GetBool("capture-all-content"),
		SelfOrigin:        viper.GetString("self-origin"),
	}); err != nil {
		log.Fatalf("Could not start instrumentation: %v", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	for sig := range c {
		log.Debugf("Got signal: %v", sig)
		gw.Stop()
		return
	}
}
