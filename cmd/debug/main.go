package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"meshmonitor/internal/app"
	"meshmonitor/internal/bus"
	"meshmonitor/internal/config"
	"meshmonitor/internal/domain"
	"meshmonitor/internal/events"
	"meshmonitor/internal/logging"
	"meshmonitor/internal/meshproto"
	"meshmonitor/internal/radio"
	"meshmonitor/internal/transport"
)

const (
	initialConfigWaitTimeout = 45 * time.Second
	maxHexPreviewLen         = 64
)

func main() {
	if err := run(); err != nil {
		slog.Error("run debug tool", "error", err)
		os.Exit(1)
	}
}

func run() error {
	host := flag.String("host", "", "radio ip/hostname")
	serialPort := flag.String("serial", "", "radio serial port")
	noSubscribe := flag.Bool("no-subscribe", false, "exit after initial config download completes")
	listenFor := flag.Duration("listen-for", 0, "listen duration, e.g. 30s")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := app.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(*host) != "" {
		cfg.Radio.Connector = config.ConnectorIP
		cfg.Radio.Host = strings.TrimSpace(*host)
	}
	if strings.TrimSpace(*serialPort) != "" {
		cfg.Radio.Connector = config.ConnectorSerial
		cfg.Radio.SerialPort = strings.TrimSpace(*serialPort)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logMgr := logging.NewManager()
	cfg.Logging.LogToFile = false
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("cli")
	logger.Info("starting meshmonitor debug", "version", app.BuildVersion(), "build_date", app.BuildDateYMD())

	b := bus.New(logMgr.Logger("bus"))
	defer b.Close()

	tr, err := buildTransport(cfg.Radio)
	if err != nil {
		return err
	}

	fromSub := b.Subscribe(events.TopicRadioFrom)
	statusSub := b.Subscribe(events.TopicSessionStatus)
	outSub := b.Subscribe(events.TopicRadioOut)
	defer b.Unsubscribe(fromSub, events.TopicRadioFrom)
	defer b.Unsubscribe(statusSub, events.TopicSessionStatus)
	defer b.Unsubscribe(outSub, events.TopicRadioOut)

	session := radio.NewSession(logMgr.Logger("radio"), b, tr)
	session.Start(ctx)
	defer session.Stop()

	logger.Info("waiting for initial config completion", "target", connectionTarget(cfg.Radio), "timeout", initialConfigWaitTimeout)
	if err := waitForInitialConfig(ctx, logger, fromSub, statusSub, outSub, initialConfigWaitTimeout); err != nil {
		return fmt.Errorf("initial config did not complete: %w", err)
	}
	logger.Info("initial config completed",
		"local_node", domain.FormatNodeID(session.LocalNode()),
		"cached_records", len(session.CachedInitConfig()),
	)

	if *noSubscribe {
		logger.Info("no-subscribe mode completed, exiting")

		return nil
	}

	go watch(ctx, logger, fromSub, statusSub, outSub)

	if *listenFor > 0 {
		logger.Info("listen mode", "duration", *listenFor)
		select {
		case <-ctx.Done():
		case <-time.After(*listenFor):
		}

		return nil
	}

	logger.Info("listening until interrupt")
	<-ctx.Done()

	return nil
}

func buildTransport(cfg config.RadioConfig) (transport.Transport, error) {
	switch cfg.Connector {
	case config.ConnectorIP:
		return transport.NewIPTransport(cfg.Host, cfg.Port), nil
	case config.ConnectorSerial:
		return transport.NewSerialTransport(cfg.SerialPort, cfg.SerialBaud), nil
	default:
		return nil, fmt.Errorf("unknown connector: %s", cfg.Connector)
	}
}

func connectionTarget(cfg config.RadioConfig) string {
	switch cfg.Connector {
	case config.ConnectorSerial:
		return fmt.Sprintf("%s@%d", cfg.SerialPort, cfg.SerialBaud)
	default:
		return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}
}

func waitForInitialConfig(ctx context.Context, logger *slog.Logger, fromSub, statusSub, outSub bus.Subscription, timeout time.Duration) error {
	var inRecords, outFrames int
	timeoutCh := time.After(timeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeoutCh:
			logger.Info("initial phase summary", "in_records", inRecords, "out_frames", outFrames)

			return fmt.Errorf("timeout waiting for config_complete_id response after %s", timeout)
		case raw, ok := <-statusSub:
			if !ok {
				continue
			}
			status, ok := raw.(events.SessionStatus)
			if !ok {
				continue
			}
			logger.Info("initial session", "state", status.State, "transport", status.Transport, "error", status.Err)
		case raw, ok := <-outSub:
			if !ok {
				continue
			}
			frame, ok := raw.(events.RadioOut)
			if !ok {
				continue
			}
			outFrames++
			logger.Info("initial raw out", "len", frame.Len, "hex", previewHex(frame.Hex))
		case raw, ok := <-fromSub:
			if !ok {
				return fmt.Errorf("radio stream closed while waiting for initial config")
			}
			ev, ok := raw.(events.RadioFrom)
			if !ok || ev.Record == nil {
				continue
			}
			inRecords++
			logRecord(logger, "initial decoded", ev.Record)
			if ev.Record.Kind == meshproto.KindConfigComplete {
				logger.Info("initial phase summary", "in_records", inRecords, "out_frames", outFrames)

				return nil
			}
		}
	}
}

func watch(ctx context.Context, logger *slog.Logger, fromSub, statusSub, outSub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-statusSub:
			if status, ok := raw.(events.SessionStatus); ok {
				logger.Info("session", "state", status.State, "transport", status.Transport, "error", status.Err)
			}
		case raw := <-outSub:
			if frame, ok := raw.(events.RadioOut); ok {
				logger.Info("raw-out", "len", frame.Len, "hex", previewHex(frame.Hex))
			}
		case raw := <-fromSub:
			if ev, ok := raw.(events.RadioFrom); ok && ev.Record != nil {
				logRecord(logger, "decoded", ev.Record)
			}
		}
	}
}

func logRecord(logger *slog.Logger, msg string, record *meshproto.FromRadio) {
	attrs := []any{"kind", record.Kind.String(), "raw_len", len(record.Raw)}
	switch record.Kind {
	case meshproto.KindPacket:
		if pkt := record.Packet; pkt != nil {
			attrs = append(attrs,
				"from", domain.FormatNodeID(pkt.From),
				"to", domain.FormatNodeID(pkt.To),
				"id", pkt.ID,
				"encrypted", pkt.Decoded == nil,
			)
			if pkt.Decoded != nil {
				attrs = append(attrs, "port", pkt.Decoded.PortNum.String())
			}
		}
	case meshproto.KindNodeInfo:
		if info := record.NodeInfo; info != nil {
			name := ""
			if info.User != nil {
				name = info.User.LongName
			}
			attrs = append(attrs, "node", domain.FormatNodeID(info.Num), "name", name)
		}
	case meshproto.KindMyInfo:
		if info := record.MyInfo; info != nil {
			attrs = append(attrs, "node", domain.FormatNodeID(info.MyNodeNum))
		}
	case meshproto.KindConfigComplete:
		attrs = append(attrs, "config_complete_id", record.ConfigCompleteID)
	}
	logger.Info(msg, attrs...)
}

func previewHex(hex string) string {
	hex = strings.TrimSpace(hex)
	if len(hex) <= maxHexPreviewLen {
		return hex
	}

	return hex[:maxHexPreviewLen] + "..."
}
