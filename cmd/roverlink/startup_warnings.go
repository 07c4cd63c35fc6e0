package main

import (
	"log/slog"

	"github.com/snowball-robotics/roverlink/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.ControlIdleStopTimeout <= 0 {
		logger.Warn("startup safety warning: ROVERLINK_CONTROL_IDLE_STOP_TIMEOUT=0 disables the idle-stop watchdog; the vehicle keeps its last command when the operator link stalls",
			"warning_code", "idle_stop_watchdog_disabled",
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxControlFramesPerSecond <= 0 {
		logger.Warn("startup safety warning: ROVERLINK_MAX_CONTROL_FRAMES_PER_SECOND=0 disables the inbound frame rate cap",
			"warning_code", "frame_rate_cap_disabled",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.Actuator == config.ActuatorSim {
		logger.Warn("startup warning: sim actuator selected while --mode=prod; no hardware will move",
			"warning_code", "sim_actuator_in_prod",
			"actuator", cfg.Actuator,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && len(cfg.ICEServers) == 0 {
		logger.Warn("startup warning: no ICE servers configured while --mode=prod; connectivity is limited to host candidates",
			"warning_code", "no_ice_servers_in_prod",
			"mode", cfg.Mode,
		)
	}
}
