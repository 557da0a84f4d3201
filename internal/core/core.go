// Package core wires the capability, namespace, memory, and scheduling
// managers into one kernel resource-control plane. Boot performs the
// explicit start-of-world initialization: audit trail, capability table
// with a fresh boot secret, root namespace, memory pool, and one boot
// capability per configured resource class. There is no implicit
// teardown during normal operation; Shutdown is the only exit path.
package core

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/arclight-os/core/internal/backend"
	"github.com/arclight-os/core/internal/capability"
	"github.com/arclight-os/core/internal/infrastructure/config"
	"github.com/arclight-os/core/internal/infrastructure/logging"
	"github.com/arclight-os/core/internal/infrastructure/monitoring"
	"github.com/arclight-os/core/internal/memory"
	"github.com/arclight-os/core/internal/namespace"
	"github.com/arclight-os/core/internal/sched"
	"github.com/arclight-os/core/internal/shared/id"
	"github.com/arclight-os/core/internal/shared/rights"
	"github.com/arclight-os/core/internal/shared/types"
)

// Core owns the four managers and their wiring.
type Core struct {
	caps       *capability.Manager
	namespaces *namespace.Manager
	memory     *memory.Manager
	scheduler  *sched.Scheduler
	mux        *backend.Mux
	audit      *capability.AuditLog

	bootActor id.ActorID
	bootCaps  map[string]capability.Token

	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// Boot initializes the resource-control plane. The capability secret is
// fresh per boot, so handles from a previous boot fail closed.
func Boot(cfg *config.Config, policy *config.Policy, logger *logging.Logger, metrics *monitoring.Metrics) (*Core, error) {
	audit, err := capability.NewAuditLog(cfg.Audit.Dir, cfg.Audit.SegmentSize, logger)
	if err != nil {
		return nil, fmt.Errorf("core: open audit log: %w", err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		audit.Close()
		return nil, fmt.Errorf("core: generate boot secret: %w", err)
	}

	caps, err := capability.NewManager(secret, audit, logger.Named("capability"))
	if err != nil {
		audit.Close()
		return nil, err
	}
	caps.WithMetrics(metrics)

	namespaces := namespace.NewManager(caps, logger.Named("namespace")).WithMetrics(metrics)
	caps.SetNamespaces(namespaces)

	mem := memory.NewManager(caps, cfg.Memory.PoolBase, cfg.Memory.PoolSize, logger.Named("memory")).WithMetrics(metrics)

	mux := backend.NewMux()
	mux.Register("mem", backend.NewMemoryBackend(mem))
	for _, m := range policy.Modules {
		mux.Register(m.Prefix, backend.WithBreaker(backend.NewRemote(m.URL), backend.BreakerSettings{}))
		logger.Info("Module registered",
			zap.String("prefix", m.Prefix),
			zap.String("url", m.URL),
		)
	}

	scheduler := sched.NewScheduler(caps, namespaces, mux, sched.Config{
		Workers:     cfg.Scheduler.Workers,
		QueueDepth:  cfg.Scheduler.QueueDepth,
		AgingRounds: uint64(cfg.Scheduler.AgingThreshold),
		Weights: [3]int{
			policy.PriorityWeights.IO,
			policy.PriorityWeights.Normal,
			policy.PriorityWeights.Background,
		},
	}, logger.Named("sched")).WithMetrics(metrics)
	namespaces.SetTaskCanceller(scheduler.CancelNamespace)

	c := &Core{
		caps:       caps,
		namespaces: namespaces,
		memory:     mem,
		scheduler:  scheduler,
		mux:        mux,
		audit:      audit,
		bootActor:  id.NewActorID(),
		bootCaps:   make(map[string]capability.Token, len(policy.ResourceClasses)),
		logger:     logger,
		metrics:    metrics,
	}

	for _, class := range policy.ResourceClasses {
		mask, err := rights.Parse(class.Rights)
		if err != nil {
			audit.Close()
			return nil, fmt.Errorf("core: policy class %q: %w", class.Name, err)
		}
		// The boot capability carries exactly the declared class rights;
		// nothing wider can ever be issued over the class.
		tok := caps.Bootstrap(c.bootActor, types.ResourceRef{Class: class.Name, Handle: 0}, mask)
		c.bootCaps[class.Name] = tok
	}

	logger.Info("Core booted",
		zap.Uint64("pool_base", cfg.Memory.PoolBase),
		zap.Uint64("pool_size", cfg.Memory.PoolSize),
		zap.Int("workers", cfg.Scheduler.Workers),
		zap.Strings("resource_classes", c.ResourceClasses()),
	)
	return c, nil
}

// Start launches the scheduler workers.
func (c *Core) Start() {
	c.scheduler.Start()
}

// Shutdown stops the workers and seals the audit trail. Safe to call once.
func (c *Core) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.scheduler.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("Scheduler drain cut short", zap.Error(ctx.Err()))
	}

	if err := c.audit.Close(); err != nil {
		return fmt.Errorf("core: seal audit log: %w", err)
	}
	c.logger.Info("Core shut down")
	return nil
}

// RegisterModule attaches an external module backend under a kind prefix.
func (c *Core) RegisterModule(prefix string, b sched.Backend) {
	c.mux.Register(prefix, b)
}

// BootCapability returns the boot token for a resource class. External
// surfaces hand it to the first administrator of that class.
func (c *Core) BootCapability(class string) (capability.Token, bool) {
	tok, ok := c.bootCaps[class]
	return tok, ok
}

// ResourceClasses lists the configured classes in stable order.
func (c *Core) ResourceClasses() []string {
	classes := make([]string, 0, len(c.bootCaps))
	for name := range c.bootCaps {
		classes = append(classes, name)
	}
	sort.Strings(classes)
	return classes
}

// BootActor is the identity the kernel itself acts under.
func (c *Core) BootActor() id.ActorID { return c.bootActor }

func (c *Core) Capabilities() *capability.Manager { return c.caps }
func (c *Core) Namespaces() *namespace.Manager    { return c.namespaces }
func (c *Core) Memory() *memory.Manager           { return c.memory }
func (c *Core) Scheduler() *sched.Scheduler       { return c.scheduler }
func (c *Core) Audit() *capability.AuditLog       { return c.audit }

// Submit is the admission path for one capability-gated operation:
// validate the token, confirm the namespace sees the operation's resource
// class, then queue for a backend. The scheduler re-checks the token's
// rights; this layer adds the visibility gate.
func (c *Core) Submit(ns types.NamespaceID, op sched.Operation) (types.TaskID, error) {
	if !c.namespaces.ClassVisible(ns, op.Resource.Class) {
		return 0, capability.ErrNamespaceMismatch
	}
	return c.scheduler.Submit(ns, op)
}

// Issue mints a capability using the boot token of the resource class.
// The control plane's bootstrap surface; everything after the first hop
// goes through Delegate on real tokens.
func (c *Core) Issue(actor id.ActorID, class string, handle uint64, r rights.Mask, ns types.NamespaceID) (capability.Token, error) {
	boot, ok := c.bootCaps[class]
	if !ok {
		return capability.Token{}, capability.ErrInvalid
	}
	return c.caps.Issue(actor, boot, types.ResourceRef{Class: class, Handle: handle}, r, ns)
}
