package main

import (
	"context"
	"fmt"
	"os"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/containers"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/containerd/wasm-shim/internal/cache"
	"github.com/containerd/wasm-shim/internal/engine/wazero"
	"github.com/containerd/wasm-shim/internal/version"
)

// containerdAddressEnv names the daemon's main API socket a Create
// request's precompile_cache option needs a content/image/leases
// connection to. It is distinct from TTRPC_ADDRESS, which names this
// shim's own event-publishing socket back to containerd, not the
// daemon's.
const containerdAddressEnv = "CONTAINERD_ADDRESS"

// buildVersion and buildCommit are set via -ldflags at build time;
// the embedded version package is the fallback for a dev build.
var (
	buildVersion string
	buildCommit  string
)

func main() {
	// Checked directly against os.Args, not the flag package: shim.Run
	// owns the process's flag set for the namespace/id/address/etc.
	// flags containerd launches the shim with, and registering a "-v"
	// flag here too would collide with it.
	for _, a := range os.Args[1:] {
		if a == "-v" || a == "--version" {
			fmt.Println("wasm-shim", versionString(), commitString())
			os.Exit(0)
		}
	}

	configureLogging()

	shim.Run(context.Background(), "io.containerd.wasm.v1", initialize)
}

// configureLogging sets the process-wide logrus logger the
// github.com/containerd/log package's G(ctx) pulls entries from.
// containerd's own shim launcher sets the level via the shim's
// "-debug" flag by calling logrus.SetLevel itself after Run starts;
// this only fills in the formatter and an operator-settable default.
func configureLogging() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if lvl := os.Getenv("CONTAINERD_WASM_SHIM_LOG_LEVEL"); lvl != "" {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			logrus.SetLevel(parsed)
		}
	}
}

// configureTracing installs a process-wide TracerProvider carrying the
// shim's id and version as resource attributes, so otelutil.StartSpan
// and every RPC handler's spans share one provider for the life of the
// process. Returns its Shutdown, wired into the service's Shutdown RPC.
func configureTracing(ctx context.Context, id string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", "containerd-shim-wasm-v1"),
			attribute.String("service.instance.id", id),
			attribute.String("service.version", versionString()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building trace resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func versionString() string {
	if buildVersion != "" {
		return buildVersion
	}
	return version.Version
}

func commitString() string {
	if buildCommit != "" {
		return buildCommit
	}
	return version.Commit
}

// initialize builds the single service instance this shim process
// serves. containerd launches one shim process per task (or, for a
// pod, one per sandbox plus its workload containers when grouped
// behind the sandbox's shim), passing the id it should answer to and
// the address its own ttrpc server should publish events back over.
func initialize(ctx context.Context, id string, publisher shim.Publisher, shutdown func()) (shim.Shim, error) {
	eng, err := wazero.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting wazero engine: %w", err)
	}

	tracerShutdown, err := configureTracing(ctx, id)
	if err != nil {
		return nil, err
	}

	log.G(ctx).WithField("id", id).WithField("version", versionString()).Debug("wasm shim initializing")

	opts := []ServiceOption{
		WithTID(id),
		WithEngine(eng),
		WithEventSender(publisher),
		WithTracerShutdown(tracerShutdown),
	}
	if c, containerStore := connectCache(ctx); c != nil {
		opts = append(opts, WithCache(c), WithContainers(containerStore))
	}

	return NewService(opts...)
}

// connectCache dials containerd's main API to back a precompile cache
// and the container→image lookup the image cache's manifest walk
// needs, if CONTAINERD_ADDRESS names one. A task must still opt in via
// its Create request's precompile_cache option; a shim with no address
// configured, or whose dial fails, just runs every task uncached and
// resolves entrypoints directly off the rootfs.
func connectCache(ctx context.Context) (*cache.Cache, containers.Store) {
	addr := os.Getenv(containerdAddressEnv)
	if addr == "" {
		return nil, nil
	}
	cl, err := containerd.New(addr)
	if err != nil {
		log.G(ctx).WithError(err).Warn("connecting to containerd for precompile cache; caching disabled")
		return nil, nil
	}
	return cache.New(cl.ContentStore(), cl.ImageService(), cl.LeasesService()), cl.ContainerService()
}
