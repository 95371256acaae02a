package payment

import "go.uber.org/zap"

// RegisterBuiltins registers every enabled built-in driver. Drivers are
// constructed lazily, so a misconfigured one only fails when it is used.
func RegisterBuiltins(r *Registry, drivers map[string]DriverConfig, logger *zap.Logger) {
	builders := map[string]func(DriverConfig) (Gateway, error){
		chipName: func(c DriverConfig) (Gateway, error) {
			return NewChip(c, logger)
		},
		toyyibName: func(c DriverConfig) (Gateway, error) {
			return NewToyyibPay(c, logger)
		},
		stripeName: func(c DriverConfig) (Gateway, error) {
			return NewStripe(c, logger)
		},
		paypalName: func(c DriverConfig) (Gateway, error) {
			return NewPayPal(c, logger)
		},
		manualName: func(c DriverConfig) (Gateway, error) {
			return NewManualProof(c), nil
		},
		mercadoPagoName: func(c DriverConfig) (Gateway, error) {
			return NewMercadoPago(c, logger)
		},
	}

	for name, build := range builders {
		cfg, ok := drivers[name]
		if !ok || !cfg.Enabled {
			continue
		}
		build, cfg := build, cfg
		r.Extend(name, func() (Gateway, error) { return build(cfg) })
	}
}
