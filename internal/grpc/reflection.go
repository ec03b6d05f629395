package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/shhac/grpcdesk/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	// Well-known types back the fallback resolver when a server omits them.
	_ "google.golang.org/protobuf/types/known/anypb"
	_ "google.golang.org/protobuf/types/known/apipb"
	_ "google.golang.org/protobuf/types/known/durationpb"
	_ "google.golang.org/protobuf/types/known/emptypb"
	_ "google.golang.org/protobuf/types/known/fieldmaskpb"
	_ "google.golang.org/protobuf/types/known/sourcecontextpb"
	_ "google.golang.org/protobuf/types/known/structpb"
	_ "google.golang.org/protobuf/types/known/timestamppb"
	_ "google.golang.org/protobuf/types/known/typepb"
	_ "google.golang.org/protobuf/types/known/wrapperspb"
)

var reflectionServices = map[string]bool{
	"grpc.reflection.v1alpha.ServerReflection": true,
	"grpc.reflection.v1.ServerReflection":      true,
}

type serviceKey struct {
	conn    *grpc.ClientConn
	service string
}

// Reflector discovers services over server reflection and caches resolved
// service descriptors per connection.
type Reflector struct {
	mu     sync.Mutex
	cache  map[serviceKey]*desc.ServiceDescriptor
	logger *slog.Logger
}

// NewReflector creates an empty reflector.
func NewReflector(logger *slog.Logger) *Reflector {
	return &Reflector{
		cache:  make(map[serviceKey]*desc.ServiceDescriptor),
		logger: logger,
	}
}

func newReflectionClient(ctx context.Context, conn *grpc.ClientConn) *grpcreflect.Client {
	client := grpcreflect.NewClientAuto(ctx, conn)
	client.AllowFallbackResolver(protoregistry.GlobalFiles, protoregistry.GlobalTypes)
	client.AllowMissingFileDescriptors()
	return client
}

// ListServices returns every service the server exposes except reflection
// itself. A service whose descriptors cannot be resolved is still listed,
// with Error set.
func (r *Reflector) ListServices(ctx context.Context, conn *grpc.ClientConn) ([]domain.Service, error) {
	r.logger.Debug("listing services via reflection")

	client := newReflectionClient(ctx, conn)
	defer client.Reset()

	names, err := client.ListServices()
	if err != nil {
		r.logger.Error("failed to list services", slog.Any("error", err))
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	services := make([]domain.Service, 0, len(names))
	errorCount := 0
	for _, name := range names {
		if reflectionServices[name] {
			continue
		}

		sd, err := r.resolve(ctx, conn, client, name)
		if err != nil {
			errorCount++
			services = append(services, domain.Service{
				Name:     shortName(name),
				FullName: name,
				Error:    err.Error(),
			})
			continue
		}
		services = append(services, r.convertService(sd))
	}

	if errorCount > 0 {
		r.logger.Warn("some services failed descriptor resolution",
			slog.Int("total", len(services)),
			slog.Int("errors", errorCount),
		)
	}
	r.logger.Info("discovered services via reflection", slog.Int("count", len(services)))

	return services, nil
}

// ResolveMethod returns the descriptor of service/method. An unknown method
// is reported as an Unimplemented status.
func (r *Reflector) ResolveMethod(ctx context.Context, conn *grpc.ClientConn, service, method string) (*desc.MethodDescriptor, error) {
	key := serviceKey{conn: conn, service: service}

	r.mu.Lock()
	sd, ok := r.cache[key]
	r.mu.Unlock()

	if !ok {
		client := newReflectionClient(ctx, conn)
		defer client.Reset()

		var err error
		sd, err = r.resolve(ctx, conn, client, service)
		if err != nil {
			return nil, err
		}
	}

	md := sd.FindMethodByName(method)
	if md == nil {
		return nil, status.Errorf(codes.Unimplemented, "method %s not found in service %s", method, service)
	}
	return md, nil
}

// Forget drops cached descriptors for conn.
func (r *Reflector) Forget(conn *grpc.ClientConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if key.conn == conn {
			delete(r.cache, key)
		}
	}
}

func (r *Reflector) resolve(ctx context.Context, conn *grpc.ClientConn, client *grpcreflect.Client, name string) (*desc.ServiceDescriptor, error) {
	sd, err := client.ResolveService(name)
	if err != nil {
		r.logger.Warn("standard resolution failed, trying lenient resolve",
			slog.String("service", name),
			slog.Any("error", err),
		)

		lenient, lenientErr := r.lenientResolve(ctx, conn, name)
		if lenientErr != nil {
			r.logger.Warn("lenient resolution also failed",
				slog.String("service", name),
				slog.Any("error", lenientErr),
			)
			return nil, err
		}
		sd, lenientErr = desc.WrapService(lenient)
		if lenientErr != nil {
			return nil, err
		}
		r.logger.Info("lenient resolution succeeded", slog.String("service", name))
	}

	r.mu.Lock()
	r.cache[serviceKey{conn: conn, service: name}] = sd
	r.mu.Unlock()
	return sd, nil
}

// lenientResolve speaks the raw reflection protocol and builds descriptors
// with protodesc.AllowUnresolvable, so a service is usable even when some
// of its type dependencies are not.
func (r *Reflector) lenientResolve(ctx context.Context, conn *grpc.ClientConn, serviceName string) (protoreflect.ServiceDescriptor, error) {
	stream, err := reflectionpb.NewServerReflectionClient(conn).ServerReflectionInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open reflection stream: %w", err)
	}
	defer func() { _ = stream.CloseSend() }()

	fetch := func(req *reflectionpb.ServerReflectionRequest) ([]*descriptorpb.FileDescriptorProto, error) {
		if err := stream.Send(req); err != nil {
			return nil, err
		}
		resp, err := stream.Recv()
		if err != nil {
			return nil, err
		}
		fdResp := resp.GetFileDescriptorResponse()
		if fdResp == nil {
			if errResp := resp.GetErrorResponse(); errResp != nil {
				return nil, fmt.Errorf("reflection error: %s", errResp.GetErrorMessage())
			}
			return nil, fmt.Errorf("unexpected reflection response type")
		}
		var out []*descriptorpb.FileDescriptorProto
		for _, raw := range fdResp.GetFileDescriptorProto() {
			fd := &descriptorpb.FileDescriptorProto{}
			if err := proto.Unmarshal(raw, fd); err != nil {
				r.logger.Warn("failed to unmarshal file descriptor", slog.Any("error", err))
				continue
			}
			out = append(out, fd)
		}
		return out, nil
	}

	first, err := fetch(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_FileContainingSymbol{
			FileContainingSymbol: serviceName,
		},
	})
	if err != nil {
		return nil, err
	}

	var fdProtos []*descriptorpb.FileDescriptorProto
	seen := map[string]bool{}
	add := func(files []*descriptorpb.FileDescriptorProto) {
		for _, fd := range files {
			if !seen[fd.GetName()] {
				seen[fd.GetName()] = true
				fdProtos = append(fdProtos, fixDescriptor(fd))
			}
		}
	}
	add(first)

	// Fetch dependencies the server left out and we do not know locally.
	for i := 0; i < len(fdProtos); i++ {
		for _, dep := range fdProtos[i].GetDependency() {
			if seen[dep] {
				continue
			}
			if _, err := protoregistry.GlobalFiles.FindFileByPath(dep); err == nil {
				continue
			}
			files, err := fetch(&reflectionpb.ServerReflectionRequest{
				MessageRequest: &reflectionpb.ServerReflectionRequest_FileByFilename{
					FileByFilename: dep,
				},
			})
			if err != nil {
				r.logger.Debug("failed to fetch dependency file",
					slog.String("dep", dep), slog.Any("error", err))
				continue
			}
			add(files)
		}
	}

	return buildLenient(fdProtos, serviceName, r.logger)
}

func buildLenient(fdProtos []*descriptorpb.FileDescriptorProto, serviceName string, logger *slog.Logger) (protoreflect.ServiceDescriptor, error) {
	opts := protodesc.FileOptions{AllowUnresolvable: true}
	localFiles := new(protoregistry.Files)
	resolver := &combinedResolver{local: localFiles, global: protoregistry.GlobalFiles}

	// Parse iteratively so dependencies register before dependents.
	remaining := fdProtos
	var serviceDesc protoreflect.ServiceDescriptor
	for len(remaining) > 0 {
		progress := false
		var next []*descriptorpb.FileDescriptorProto

		for _, fd := range remaining {
			if _, err := resolver.FindFileByPath(fd.GetName()); err == nil {
				progress = true
				continue
			}

			parsed, err := opts.New(fd, resolver)
			if err != nil {
				next = append(next, fd)
				continue
			}
			progress = true
			if err := localFiles.RegisterFile(parsed); err != nil {
				logger.Debug("failed to register lenient file",
					slog.String("file", fd.GetName()),
					slog.Any("error", err),
				)
				continue
			}

			services := parsed.Services()
			for i := range services.Len() {
				if sd := services.Get(i); string(sd.FullName()) == serviceName {
					serviceDesc = sd
				}
			}
		}

		remaining = next
		if !progress {
			break
		}
	}

	if serviceDesc == nil {
		return nil, fmt.Errorf("service %s not found after lenient parsing", serviceName)
	}
	return serviceDesc, nil
}

// fixDescriptor repairs server quirks that make protodesc reject a file.
// Currently that is reserved ranges with start and end swapped.
func fixDescriptor(fd *descriptorpb.FileDescriptorProto) *descriptorpb.FileDescriptorProto {
	for _, msg := range fd.GetMessageType() {
		fixReservedRanges(msg)
	}
	return fd
}

func fixReservedRanges(msg *descriptorpb.DescriptorProto) {
	for _, rr := range msg.GetReservedRange() {
		if rr.GetStart() > rr.GetEnd() {
			start, end := rr.GetStart(), rr.GetEnd()
			rr.Start, rr.End = proto.Int32(end), proto.Int32(start)
		}
	}
	for _, nested := range msg.GetNestedType() {
		fixReservedRanges(nested)
	}
}

// combinedResolver tries local files first, then falls back to global registry.
type combinedResolver struct {
	local  *protoregistry.Files
	global *protoregistry.Files
}

func (r *combinedResolver) FindFileByPath(path string) (protoreflect.FileDescriptor, error) {
	if fd, err := r.local.FindFileByPath(path); err == nil {
		return fd, nil
	}
	return r.global.FindFileByPath(path)
}

func (r *combinedResolver) FindDescriptorByName(name protoreflect.FullName) (protoreflect.Descriptor, error) {
	if d, err := r.local.FindDescriptorByName(name); err == nil {
		return d, nil
	}
	return r.global.FindDescriptorByName(name)
}

// convertService converts a jhump ServiceDescriptor to domain.Service
func (r *Reflector) convertService(sd *desc.ServiceDescriptor) domain.Service {
	service := domain.Service{
		Name:     sd.GetName(),
		FullName: sd.GetFullyQualifiedName(),
	}

	for _, md := range sd.GetMethods() {
		sample, err := SampleBody(md)
		if err != nil {
			r.logger.Debug("failed to build sample body",
				slog.String("method", md.GetFullyQualifiedName()),
				slog.Any("error", err),
			)
		}
		service.Methods = append(service.Methods, domain.Method{
			Name:           md.GetName(),
			FullName:       md.GetFullyQualifiedName(),
			ServiceName:    sd.GetFullyQualifiedName(),
			InputType:      md.GetInputType().GetFullyQualifiedName(),
			OutputType:     md.GetOutputType().GetFullyQualifiedName(),
			IsClientStream: md.IsClientStreaming(),
			IsServerStream: md.IsServerStreaming(),
			SampleBody:     sample,
		})
	}

	return service
}

// SampleBody renders the method's input message with every field at its
// zero value.
func SampleBody(md *desc.MethodDescriptor) (string, error) {
	msg := dynamicpb.NewMessage(md.GetInputType().UnwrapMessage())
	out, err := protojson.MarshalOptions{EmitUnpopulated: true, Indent: "  "}.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func shortName(fullName string) string {
	return string(protoreflect.FullName(fullName).Name())
}
