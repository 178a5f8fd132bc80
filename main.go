package main

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/docker/docker/client"
	"github.com/go-errors/errors"
	"github.com/integrii/flaggy"
	"github.com/jesseduffield/yaml"

	"github.com/cyroid/cyroid/pkg/app"
	"github.com/cyroid/cyroid/pkg/config"
)

var (
	commit      string
	version     = "unversioned"
	date        string
	buildSource = "unknown"

	configFlag     = false
	debuggingFlag  = false
	configFileFlag = ""
)

func main() {
	info := fmt.Sprintf(
		"%s\nDate: %s\nBuildSource: %s\nCommit: %s\nOS: %s\nArch: %s",
		version,
		date,
		buildSource,
		commit,
		runtime.GOOS,
		runtime.GOARCH,
	)

	flaggy.SetName("cyroid")
	flaggy.SetDescription("Cyber-range orchestration daemon")
	flaggy.DefaultParser.AdditionalHelpPrepend = "https://github.com/cyroid/cyroid"

	flaggy.Bool(&configFlag, "c", "config", "Print the current default config")
	flaggy.Bool(&debuggingFlag, "d", "debug", "Log to development.log under the config dir")
	flaggy.String(&configFileFlag, "f", "config-file", "Path to an alternate config.yml")
	flaggy.SetVersion(info)

	flaggy.Parse()

	if configFlag {
		var buf bytes.Buffer
		encoder := yaml.NewEncoder(&buf)
		err := encoder.Encode(config.GetDefaultConfig())
		if err != nil {
			log.Fatal(err.Error())
		}
		fmt.Printf("%v\n", buf.String())
		os.Exit(0)
	}

	appConfig, err := config.NewAppConfig("cyroid", version, commit, date, buildSource, debuggingFlag, configFileFlag)
	if err != nil {
		log.Fatal(err.Error())
	}

	app, err := app.NewApp(appConfig)
	if err == nil {
		err = app.Run()
	}

	if err != nil {
		if errMessage, known := app.KnownError(err); known {
			log.Fatal(errMessage)
		}

		if client.IsErrConnectionFailed(err) {
			log.Fatal("Could not connect to the container engine. Check that it is running.")
		}

		newErr := errors.Wrap(err, 0)
		stackTrace := newErr.ErrorStack()
		app.Log.Error(stackTrace)

		log.Fatal(fmt.Sprintf("An error occurred! Please create an issue at https://github.com/cyroid/cyroid/issues\n\n%s", stackTrace))
	}
}
