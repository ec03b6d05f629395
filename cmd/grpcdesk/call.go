package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shhac/grpcdesk/internal/app"
	"github.com/shhac/grpcdesk/internal/callconfig"
	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/events"
	"github.com/shhac/grpcdesk/internal/tabs"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
)

// targetOptions select the server for services and call.
type targetOptions struct {
	host string
	port int
}

func (t *targetOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.host, "host", "", "Server host (overrides the active environment)")
	cmd.Flags().IntVar(&t.port, "port", 0, "Server port (overrides the active environment)")
}

// apply copies explicit overrides onto a tab.
func (t *targetOptions) apply(tab *domain.RequestTab) {
	if t.host != "" {
		tab.RequestHost = &t.host
	}
	if t.port != 0 {
		tab.RequestPort = &t.port
	}
}

// resolve returns the endpoint and TLS settings a call from the active
// environment would use.
func (t *targetOptions) resolve(a *app.App) (*domain.Workspace, domain.EffectiveCallConfig, error) {
	ws, err := a.Store().Snapshot()
	if err != nil {
		return nil, domain.EffectiveCallConfig{}, err
	}
	probe := &domain.RequestTab{SelectedEnvironmentID: ws.ActiveEnvironmentID}
	t.apply(probe)
	cfg := callconfig.Build(probe, ws, callconfig.Options{DefaultPort: a.Config().DefaultPort})
	return ws, cfg, nil
}

func newServicesCmd(o *rootOptions) *cobra.Command {
	var target targetOptions

	cmd := &cobra.Command{
		Use:   "services",
		Short: "List services and methods exposed through server reflection",
		Args:  cobra.NoArgs,
		RunE: o.withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
			_, cfg, err := target.resolve(a)
			if err != nil {
				return err
			}
			services, err := a.ListServices(cmd.Context(), cfg.Endpoint, cfg.TLS)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, svc := range services {
				if svc.Error != "" {
					fmt.Fprintf(out, "%s (unavailable: %s)\n", svc.FullName, svc.Error)
					continue
				}
				fmt.Fprintln(out, svc.FullName)
				for _, m := range svc.Methods {
					fmt.Fprintf(out, "  %s\t%s\t%s -> %s\n", m.Name, m.Shape(), m.InputType, m.OutputType)
				}
			}
			return nil
		}),
	}

	target.register(cmd)
	return cmd
}

func newCallCmd(o *rootOptions) *cobra.Command {
	var (
		target   targetOptions
		body     string
		messages []string
		metadata []string
	)

	cmd := &cobra.Command{
		Use:   "call <service/method>",
		Short: "Call a method",
		Long: `Call a method discovered through server reflection.

Unary and server-streaming methods send --body. Client-streaming and
bidirectional methods send each --message in order, then half-close the
stream. Streamed responses are printed as they arrive.`,
		Args: cobra.ExactArgs(1),
		RunE: o.withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			md, err := parseKeyValues(metadata)
			if err != nil {
				return err
			}
			req := callRequest{
				target:   target,
				method:   args[0],
				metadata: md,
				messages: messages,
			}
			if cmd.Flags().Changed("body") {
				req.body = &body
			}
			return runCall(cmd, a, req)
		}),
	}

	target.register(cmd)
	flags := cmd.Flags()
	flags.StringVarP(&body, "body", "d", "", "JSON request body (defaults to a generated skeleton)")
	flags.StringArrayVarP(&messages, "message", "m", nil, "JSON stream message (repeatable)")
	flags.StringArrayVarP(&metadata, "metadata", "H", nil, "Request metadata key=value (repeatable)")
	return cmd
}

type callRequest struct {
	target   targetOptions
	method   string
	body     *string
	messages []string
	metadata map[string]string
}

func runCall(cmd *cobra.Command, a *app.App, req callRequest) error {
	ctx := cmd.Context()

	ws, cfg, err := req.target.resolve(a)
	if err != nil {
		return err
	}
	method, err := lookupMethod(ctx, a, cfg, req.method)
	if err != nil {
		return err
	}
	streaming := method.IsClientStream
	if len(req.messages) > 0 && !streaming {
		return fmt.Errorf("%s is %s; --message needs a client-streaming method", req.method, method.Shape())
	}

	var env *domain.Environment
	if e, ok := ws.Environment(ws.ActiveEnvironmentID); ok {
		env = e
	}
	tab, _ := a.Tabs().Open(tabs.OpenRequest{Method: method, Environment: env})

	patch := tabs.Patch{Body: req.body}
	if len(req.metadata) > 0 {
		merged := domain.CloneMetadata(tab.Metadata)
		if merged == nil {
			merged = map[string]string{}
		}
		for k, v := range req.metadata {
			merged[k] = v
		}
		patch.Metadata = merged
	}
	if req.target.host != "" {
		patch.RequestHost = &req.target.host
	}
	if req.target.port != 0 {
		patch.RequestPort = &req.target.port
	}
	if patchNeeded(patch) {
		if err := a.Tabs().Update(tab.ID, patch); err != nil {
			return err
		}
	}

	listener, err := a.Events().Subscribe(ctx)
	if err != nil {
		return err
	}
	defer listener.Cancel()
	printed := printStream(cmd.OutOrStdout(), listener, tab.ID)

	sendErr := send(ctx, a, tab.ID, streaming, req)
	printed.stop()

	final, ok := a.Tabs().Get(tab.ID)
	if !ok {
		return sendErr
	}
	if final.Failure != nil {
		printFailure(cmd.ErrOrStderr(), final.Failure)
		return fmt.Errorf("call failed: %s", codes.Code(final.Failure.Code))
	}
	if sendErr != nil {
		return sendErr
	}
	if final.Response != "" {
		fmt.Fprintln(cmd.OutOrStdout(), final.Response)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s in %s\n", codes.Code(final.StatusCode), final.FullMethod(), final.Duration.Round(time.Millisecond))
	return nil
}

func patchNeeded(p tabs.Patch) bool {
	return p.Body != nil || p.Metadata != nil || p.RequestHost != nil || p.RequestPort != nil
}

func send(ctx context.Context, a *app.App, tabID string, streaming bool, req callRequest) error {
	sessions := a.Sessions()
	if !streaming {
		return sessions.Send(ctx, tabID)
	}

	bodies := req.messages
	if len(bodies) == 0 {
		tab, _ := a.Tabs().Get(tabID)
		bodies = []string{tab.Body}
	}
	if err := sessions.Send(ctx, tabID); err != nil {
		return err
	}
	for _, b := range bodies {
		if _, err := a.Tabs().QueueMessage(tabID, b); err != nil {
			return err
		}
	}
	if _, err := sessions.SendPending(ctx, tabID); err != nil {
		return err
	}
	return sessions.Finish(ctx, tabID)
}

func lookupMethod(ctx context.Context, a *app.App, cfg domain.EffectiveCallConfig, target string) (domain.Method, error) {
	service, name, ok := splitMethod(target)
	if !ok {
		return domain.Method{}, fmt.Errorf("expected <service>/<method>, got %q", target)
	}
	services, err := a.ListServices(ctx, cfg.Endpoint, cfg.TLS)
	if err != nil {
		return domain.Method{}, err
	}
	for _, svc := range services {
		if svc.FullName != service && svc.Name != service {
			continue
		}
		if svc.Error != "" {
			return domain.Method{}, fmt.Errorf("service %s unavailable: %s", svc.FullName, svc.Error)
		}
		for _, m := range svc.Methods {
			if m.Name == name {
				return m, nil
			}
		}
		return domain.Method{}, fmt.Errorf("method %s not found on %s", name, svc.FullName)
	}
	return domain.Method{}, fmt.Errorf("service %s not found at %s", service, cfg.Endpoint.Address())
}

// splitMethod accepts "pkg.Service/Method", "/pkg.Service/Method" and
// "pkg.Service.Method".
func splitMethod(target string) (service, method string, ok bool) {
	target = strings.TrimPrefix(strings.TrimSpace(target), "/")
	if i := strings.LastIndex(target, "/"); i >= 0 {
		service, method = target[:i], target[i+1:]
	} else if i := strings.LastIndex(target, "."); i >= 0 {
		service, method = target[:i], target[i+1:]
	}
	return service, method, service != "" && method != ""
}

// streamPrinter writes stream events for one tab until stopped.
type streamPrinter struct {
	quit chan struct{}
	done chan struct{}
}

func printStream(w io.Writer, l *events.Listener, tabID string) *streamPrinter {
	p := &streamPrinter{quit: make(chan struct{}), done: make(chan struct{})}
	write := func(evt domain.StreamEvent) {
		if evt.TabID == tabID {
			fmt.Fprintf(w, "[%d] %s\n", evt.Index, evt.Data)
		}
	}
	go func() {
		defer close(p.done)
		for {
			select {
			case evt := <-l.C:
				write(evt)
			case <-l.Done():
				return
			case <-p.quit:
				// Every event of a finished call is already queued.
				for {
					select {
					case evt := <-l.C:
						write(evt)
					default:
						return
					}
				}
			}
		}
	}()
	return p
}

func (p *streamPrinter) stop() {
	close(p.quit)
	<-p.done
}

func printFailure(w io.Writer, f *domain.CallFailure) {
	fmt.Fprintf(w, "%s: %s\n", codes.Code(f.Code), f.Message)
	if f.Details != "" {
		fmt.Fprintf(w, "  details: %s\n", f.Details)
	}
	for _, hint := range f.Hints {
		fmt.Fprintf(w, "  hint: %s\n", hint)
	}
}
