// Package main runs the structure-mapping SLAM service as a standalone
// process, fed over MQTT.
package main

import (
	"context"
	"flag"

	"github.com/edaniels/golog"
	goutils "go.viam.com/utils"

	structureslam "github.com/structkit/structure-slam"
	"github.com/structkit/structure-slam/sensors/mqtt"
)

func main() {
	goutils.ContextualMain(mainWithArgs, golog.NewDebugLogger("structure-slam"))
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	flags := flag.NewFlagSet("structure-slam", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to the yaml config file")
	broker := flags.String("broker", "tcp://localhost:1883", "mqtt broker url")
	clientID := flags.String("client-id", "structure-slam", "mqtt client id")
	topicPrefix := flags.String("topic-prefix", "structure_slam", "mqtt topic prefix")
	dumpDir := flags.String("dump-on-exit", "", "directory to dump the session into on shutdown")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}

	cfg := structureslam.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = structureslam.LoadConfig(*configPath); err != nil {
			return err
		}
	}

	svc, err := structureslam.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		goutils.UncheckedError(svc.Close(context.Background()))
	}()

	bridge, err := mqtt.New(ctx, mqtt.Config{
		BrokerURL:   *broker,
		ClientID:    *clientID,
		TopicPrefix: *topicPrefix,
	}, svc, logger)
	if err != nil {
		return err
	}
	defer bridge.Close()

	<-ctx.Done()
	if *dumpDir != "" {
		return svc.DumpState(context.Background(), *dumpDir)
	}
	return nil
}
