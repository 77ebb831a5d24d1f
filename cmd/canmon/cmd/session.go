package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/canmon"
	"github.com/roffe/canmon/pkg/config"
	"github.com/roffe/canmon/pkg/decoder"
	"github.com/roffe/canmon/pkg/filter"
	"github.com/roffe/canmon/pkg/project"
	"github.com/roffe/canmon/pkg/serialport"
	"github.com/spf13/cobra"
)

var errNoProject = errors.New("no project file set")

type settings struct {
	config.Config
	debug bool
}

// loadSettings merges the config file with flags given on the command line
func loadSettings(cmd *cobra.Command) (*settings, error) {
	flags := cmd.Flags()
	cfg := config.Default()
	if path, _ := flags.GetString(flagConfig); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if flags.Changed(flagPort) {
		cfg.Serial.Port, _ = flags.GetString(flagPort)
	}
	if flags.Changed(flagBaudrate) {
		cfg.Serial.Baudrate, _ = flags.GetInt(flagBaudrate)
	}
	if flags.Changed(flagSpeed) {
		cfg.Serial.CANRate, _ = flags.GetInt(flagSpeed)
	}
	if flags.Changed(flagRetries) {
		cfg.Serial.Retries, _ = flags.GetUint(flagRetries)
	}
	if flags.Changed(flagProject) {
		cfg.Monitor.Project, _ = flags.GetString(flagProject)
	}
	debug, _ := flags.GetBool(flagDebug)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &settings{Config: cfg, debug: debug}, nil
}

// loadEngine returns an engine seeded from the project file. A missing file
// yields an empty engine, invalid rules are logged and skipped.
func loadEngine(path string, opts ...filter.Opt) (*filter.Engine, error) {
	eng := filter.NewEngine(opts...)
	if path == "" {
		return eng, nil
	}
	p, err := project.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return eng, nil
		}
		return nil, err
	}
	if _, err := p.Apply(eng, true); err != nil {
		log.Printf("project %s: %v", path, err)
	}
	return eng, nil
}

func saveEngine(path string, eng *filter.Engine) error {
	if path == "" {
		return errNoProject
	}
	return project.Save(path, project.FromEngine("", eng))
}

// openPort opens the adapter, retrying while the device is unavailable
func openPort(ctx context.Context, s *settings) (*serialport.Port, error) {
	cfg, err := s.SerialConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Port == "" {
		return nil, errors.New("no port given, use --port (see canmon ports)")
	}
	cfg.Debug = s.debug

	attempts := s.Serial.Retries
	if attempts == 0 {
		attempts = 1
	}

	var port *serialport.Port
	err = retry.Do(
		func() error {
			p, err := serialport.Open(cfg)
			if err != nil {
				return err
			}
			port = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, serialport.ErrDeviceUnavailable)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("#%d: %s\n", n, err.Error())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Port, err)
	}
	log.Printf("opened %s at %d baud, CAN %d bit/s", port.Name(), cfg.Baudrate, cfg.CANRate)
	return port, nil
}

// newStream builds the decode pipeline over src. In debug mode every
// rejected frame is reported as a debug event.
func newStream(src canmon.ByteSource, s *settings, eng *filter.Engine) (*canmon.Stream, error) {
	var stream *canmon.Stream
	var opts []decoder.Opt
	if s.debug {
		opts = append(opts, decoder.OptOnFramingError(func(fe *decoder.FramingError) {
			stream.Debug(fe.Error())
		}))
	}
	dec, err := decoder.New(s.Layout(), opts...)
	if err != nil {
		return nil, err
	}
	stream = canmon.New(src, dec, eng,
		canmon.OptChunkSize(s.Stream.ChunkSize),
		canmon.OptQueueSize(s.Stream.QueueSize),
	)
	return stream, nil
}

// logEvents prints stream events until the stream stops
func logEvents(stream *canmon.Stream) {
	for {
		select {
		case e := <-stream.Events():
			log.Println(e.String())
		case <-stream.Done():
			for {
				select {
				case e := <-stream.Events():
					log.Println(e.String())
				default:
					return
				}
			}
		}
	}
}
