package eex

// kernelOptions holds configuration options for Kernel creation.
type kernelOptions struct {
	platform      Platform
	logger        *Logger
	idleHook      func(msUntilTimeout int32) uint32
	timerPriority uint32
}

// KernelOption configures a Kernel instance.
type KernelOption interface {
	applyKernel(*kernelOptions) error
}

// kernelOptionImpl implements KernelOption.
type kernelOptionImpl struct {
	applyKernelFunc func(*kernelOptions) error
}

func (k *kernelOptionImpl) applyKernel(opts *kernelOptions) error {
	return k.applyKernelFunc(opts)
}

// WithPlatform overrides the hosted clock/idle-hook implementation, e.g.
// to drive the kernel from a virtual clock in tests.
func WithPlatform(p Platform) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		if p == nil {
			return &ConfigError{Message: "eex: WithPlatform requires a non-nil Platform"}
		}
		opts.platform = p
		return nil
	}}
}

// WithLogger overrides the kernel's structured logger. The zero value
// disables logging.
func WithLogger(l *Logger) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		if l == nil {
			l = NewNoopLogger()
		}
		opts.logger = l
		return nil
	}}
}

// WithIdleHook overrides the idle hook without replacing the whole
// Platform; the configured Platform still supplies the clock. See
// [Platform.IdleHook] for the contract.
func WithIdleHook(hook func(msUntilTimeout int32) uint32) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		if hook == nil {
			return &ConfigError{Message: "eex: WithIdleHook requires a non-nil hook"}
		}
		opts.idleHook = hook
		return nil
	}}
}

// WithTimerThreadPriority reserves the given thread priority for the
// software timer service. With the default of 0 the timer service thread
// is not created and the Timer API is inert.
func WithTimerThreadPriority(priority uint32) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		if priority > ThreadsMax {
			return &ConfigError{Message: "eex: timer thread priority out of range"}
		}
		opts.timerPriority = priority
		return nil
	}}
}

// resolveKernelOptions applies KernelOption instances to kernelOptions.
func resolveKernelOptions(opts []KernelOption) (*kernelOptions, error) {
	cfg := &kernelOptions{
		platform: newHostedPlatform(),
		logger:   defaultLogger(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyKernel(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
