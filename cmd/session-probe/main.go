// session-probe connects to the services listed in a config file, keeps them
// alive and logs whatever they receive. It is handy for checking a backend by
// hand.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/star371/netsession/internal/config"
	"github.com/star371/netsession/internal/logging"
	"github.com/star371/netsession/pkg/command"
	"github.com/star371/netsession/pkg/service"
	"github.com/star371/netsession/pkg/session"
	"github.com/star371/netsession/pkg/transport"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type probe struct{}

func (probe) Start(svc *service.Service) {
	svc.Logger().Info("Service started", zap.String("url", svc.URL()))
}

func (probe) OnEnable(svc *service.Service) {
	svc.Logger().Info("Service enabled", zap.Bool("isReconnect", svc.IsReconnect()))
}

func (probe) OnDisable(svc *service.Service) {
	svc.Logger().Info("Service disabled", zap.Int("closeCode", svc.CloseCode()))
}

func (probe) OnCommand(svc *service.Service, cmd command.Command) {
	svc.Logger().Info("Received command", zap.Stringer("type", cmd.Type()), zap.Stringer("kind", cmd.Kind()))
}

func (probe) OnCommandTimeout(svc *service.Service, header *transport.HeaderMap, req command.Command) {
	svc.Logger().Warn("Command timed out", zap.Stringer("type", req.Type()), zap.Int64("serialNo", header.SerialNo()))
}

func (probe) ShouldPromiseSend(req command.Command) bool { return true }

// headers adds the configured static headers to every request.
type headers struct {
	session.NopDelegate
	values map[string]string
}

func (h headers) CustomHttpHeaderMap(int) *transport.HeaderMap {
	if len(h.values) == 0 {
		return nil
	}
	m := transport.NewHeaderMap()
	for key, value := range h.values {
		m.Set(key, value)
	}
	return m
}

func keepaliveContent(codec string) func() any {
	return func() any {
		now := time.Now().UnixMilli()
		switch codec {
		case config.CodecJson:
			return map[string]int64{"ts": now}
		case config.CodecRest:
			return []byte(fmt.Sprint(now))
		}
		return wrapperspb.Int64(now)
	}
}

func buildService(cfg config.ServiceConfig, logger *zap.Logger) (*service.Service, error) {
	svcCfg := service.Config{
		Name:        cfg.Name,
		Id:          cfg.Id,
		Delegate:    headers{values: cfg.Headers},
		Timeout:     cfg.Timeout(),
		AutoManaged: cfg.AutoManaged,
		Logger:      logger,
	}

	var (
		svc *service.Service
		err error
	)
	switch cfg.Codec {
	case config.CodecJson:
		svc, err = service.NewJson(svcCfg, probe{})
	case config.CodecRest:
		svc, err = service.NewRest(svcCfg, probe{})
	default:
		svc, err = service.NewProto(svcCfg, probe{})
	}
	if err != nil {
		return nil, err
	}

	if k := cfg.Keepalive; k != nil {
		typ := command.Code(k.Type)
		if k.Path != "" {
			typ = command.Path(k.Path)
		}
		svc.ScheduleSendCommand(k.Interval(), typ, keepaliveContent(cfg.Codec))
	}
	return svc, nil
}

func main() {
	configFile := flag.String("config", "session-probe.yaml", "Path to the YAML config file")
	tickOverride := flag.Duration("tick", 0, "Pump interval, overrides tick_ms from the config")
	reconnectEvery := flag.Duration("reconnect", 5*time.Second, "How often closed auto-managed services are reconnected")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", *configFile, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	registry := service.CreateRegistry(logger)
	for _, svcCfg := range cfg.Services {
		svc, err := buildService(svcCfg, logger)
		if err != nil {
			logger.Error("Failed to create service", zap.String("name", svcCfg.Name), zap.Error(err))
			return
		}
		if err := registry.Register(svc); err != nil {
			logger.Error("Failed to register service", zap.String("name", svcCfg.Name), zap.Error(err))
			return
		}
		svc.Connect(svcCfg.Url)
	}

	tick := cfg.Tick()
	if *tickOverride > 0 {
		tick = *tickOverride
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	reconnectTicker := time.NewTicker(*reconnectEvery)
	defer reconnectTicker.Stop()

	logger.Info("Session probe running", zap.Int("services", len(cfg.Services)), zap.Duration("tick", tick))

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			registry.Close(0)
			registry.Process(0)
			registry.Reset()
			return
		case now := <-ticker.C:
			registry.Process(now.Sub(last))
			last = now
		case <-reconnectTicker.C:
			if n := registry.Reconnect(); n > 0 {
				logger.Info("Reconnecting services", zap.Int("count", n))
			}
		}
	}
}
