package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"

	"github.com/lcx/tcpio/data"
	"github.com/lcx/tcpio/log"
	"github.com/lcx/tcpio/message"
	tcpnet "github.com/lcx/tcpio/net"
	"github.com/lcx/tcpio/queue"
)

var (
	echo      bool
	sendRate  int
	sendCount int
	rows      int
	cols      int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept one peer and keep serving it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd.Context(), "server")
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a peer and send sample DATA envelopes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd.Context(), "client")
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve or connect according to the role in the config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConnectionCfg()
		if err != nil {
			return err
		}
		if cfg.Role == "" {
			return errors.New("tcp_connection role is not set")
		}
		return runSession(cmd.Context(), cfg.Role)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&echo, "echo", false, "send every received DATA envelope back")
	for _, c := range []*cobra.Command{connectCmd, runCmd} {
		c.Flags().IntVar(&sendRate, "rate", 10, "DATA envelopes per second, 0 sends nothing")
		c.Flags().IntVar(&sendCount, "count", 0, "stop after this many envelopes, 0 runs until interrupted")
		c.Flags().IntVar(&rows, "rows", 3, "rows of the sample matrix")
		c.Flags().IntVar(&cols, "cols", 4, "columns of the sample matrix")
	}
}

// errProducerDone ends the session once every requested envelope went out.
var errProducerDone = errors.New("producer done")

// runSession establishes the connection in role, starts the manager and runs
// until the context is cancelled.
func runSession(ctx context.Context, role string) error {
	out, in := queue.New(), queue.New()
	m, cfg, err := newManager(out, in, role)
	if err != nil {
		return err
	}
	defer m.Close()

	switch role {
	case "server":
		if err := m.ListenAndAcceptOnce(ctx, cfg.Port); err != nil {
			return err
		}
	case "client":
		if err := m.ConnectToPeer(ctx, cfg.Host, cfg.Port); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	if err := m.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveMetrics(gctx) })
	g.Go(func() error {
		consume(gctx, in, out, echo && role == "server")
		return nil
	})
	if role == "client" && sendRate > 0 {
		g.Go(func() error { return produce(gctx, out, sendRate, sendCount) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return m.Close()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errProducerDone) {
		return err
	}
	return nil
}

// consume logs what arrives until ctx is done.
func consume(ctx context.Context, in, out *queue.SafeQueue, echoBack bool) {
	for ctx.Err() == nil {
		env, ok := in.PopWait(100 * time.Millisecond)
		if !ok {
			continue
		}
		switch env.Type {
		case message.TypeReconnect:
			log.Warn().Msg("connection re-established")
		case message.TypeData:
			log.Info().Int("vars", len(env.Variables)).Str("first", firstBlock(env)).
				Dur("latency", time.Since(env.Time())).Msg("data received")
			if echoBack {
				out.Push(message.NewDataEnvelope(env.Variables...))
			}
		default:
			log.Info().Str("type", env.Type.String()).Msg("control received")
		}
	}
}

func firstBlock(env *message.Envelope) string {
	if len(env.Variables) == 0 {
		return ""
	}
	return env.Variables[0].MetaData().String()
}

// produce pushes DATA envelopes at perSecond until count were queued and sent.
func produce(ctx context.Context, out *queue.SafeQueue, perSecond, count int) error {
	rl := ratelimit.New(perSecond)
	for seq := 0; count == 0 || seq < count; seq++ {
		rl.Take()
		if ctx.Err() != nil {
			return nil
		}
		out.Push(sampleEnvelope(seq, rows, cols))
	}

	for out.Len() > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(10 * time.Millisecond):
		}
	}
	log.Info().Int("count", count).Msg("all envelopes sent")
	return errProducerDone
}

// sampleEnvelope builds a DATA envelope holding a rows x cols matrix of doubles.
func sampleEnvelope(seq, rows, cols int) *message.Envelope {
	values := make([]float64, rows*cols)
	for i := range values {
		values[i] = float64(seq) + float64(i)/10
	}
	meta := data.NewMetaData(1, int32(seq), data.DataTypeDouble, []uint64{uint64(rows), uint64(cols)}, "sample")
	return message.NewDataEnvelope(data.NewTypedMsgData(meta, values))
}

var _ tcpnet.Queue = (*queue.SafeQueue)(nil)
