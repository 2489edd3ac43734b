// Package config loads and validates the controller's configuration.
//
// Configuration comes from a YAML file with environment variable
// overrides on top, loaded once at startup:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Engine.MaxDailySeconds)
//
// Validation runs at load time; a controller with a bad daily cap or a
// missing broker address refuses to start rather than discovering the
// problem mid-run. MQTT credentials and the InfluxDB token belong in
// environment variables, not in the file.
package config
