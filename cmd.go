package integra

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"io/ioutil"
	"os"
	"os/exec"
	"strconv"

	"git.arvados.org/arvados.git/lib/cmd"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	handler = cmd.Multi(map[string]cmd.Handler{
		"version":   cmd.Version,
		"-version":  cmd.Version,
		"--version": cmd.Version,

		"merge":              &mergeCmd{},
		"normalize":          &normalizeCmd{},
		"calculate-pval":     &pvalueCmd{},
		"plot":               &plotCmd{},
		"export-numpy":       &exportNumpy{},
		"pca":                &goPCA{},
		"build-docker-image": &buildDockerImage{},
	})
)

func Main() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error loading .env: %s\n", err)
		os.Exit(1)
	}
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.StandardLogger().Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	}
	if debug, _ := strconv.ParseBool(os.Getenv("INTEGRA_DEBUG")); debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	os.Exit(handler.RunCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// runtimeDockerfile is the image used in container mode. The integra
// binary is mounted from a collection at /mnt/cmd.
const runtimeDockerfile = `FROM debian:bullseye-slim
RUN DEBIAN_FRONTEND=noninteractive \
  apt-get update && \
  apt-get install -y --no-install-recommends ca-certificates && \
  rm -rf /var/lib/apt/lists/*
WORKDIR /mnt/output
`

type buildDockerImage struct{}

func (cmd *buildDockerImage) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	tag := flags.String("tag", runtimeImage, "image `tag`")
	dryRun := flags.Bool("dry-run", false, "print the Dockerfile instead of building it")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
		return 2
	}
	if *dryRun {
		_, err = io.WriteString(stdout, runtimeDockerfile)
		if err != nil {
			return 1
		}
		return 0
	}

	tmpdir, err := ioutil.TempDir("", "integra-image-")
	if err != nil {
		return 1
	}
	defer os.RemoveAll(tmpdir)
	err = ioutil.WriteFile(tmpdir+"/Dockerfile", []byte(runtimeDockerfile), 0644)
	if err != nil {
		return 1
	}
	docker := exec.Command("docker", "build", "--tag="+*tag, tmpdir)
	docker.Stdout = stdout
	docker.Stderr = stderr
	err = docker.Run()
	if err != nil {
		err = fmt.Errorf("docker build: %w", err)
		return 1
	}
	logrus.Infof("built and tagged docker image %s", *tag)
	return 0
}
