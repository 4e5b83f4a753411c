package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strings"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	echoapi "github.com/trezcool/querydesc/apps/api/echo"
	"github.com/trezcool/querydesc/core"
	"github.com/trezcool/querydesc/core/querydesc"
)

var (
	isTerminalFunc = term.IsTerminal // mockable

	errHelp     = errors.New("help provided")
	errNoInput  = errors.New("no descriptor provided: use -file or pipe it through stdin")
	errNotValid = errors.New("descriptor is not valid")
)

type commandLine struct {
	conf       *core.Config
	store      *querydesc.Store
	validate   *validator.Validate
	translator ut.Translator
	in         io.Reader
	out        io.Writer
	openDB     dbOpener
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  validate [-file FILE|-]                                - validate a descriptor")
	fmt.Fprintln(cli.out, "  datasources [-file FILE|-]                             - list the datasources of a descriptor")
	fmt.Fprintln(cli.out, "  merge [-file FILE|-] -datasource NAME -updates JSON    - merge updates into a node")
	fmt.Fprintln(cli.out, "  paginate [-file FILE|-] -offset N -limit N             - set the page window")
	fmt.Fprintln(cli.out, "  preset -name NAME                                      - print a preset descriptor")
	fmt.Fprintln(cli.out, "  token -subject SUBJECT [-username U] [-email E] [-admin] - generate an API token")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                                 - run database migrations")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	validateCmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	validateFile := validateCmd.String("file", "", "The descriptor file; '-' or no file reads stdin.")

	datasourcesCmd := flag.NewFlagSet("datasources", flag.ContinueOnError)
	datasourcesFile := datasourcesCmd.String("file", "", "The descriptor file; '-' or no file reads stdin.")

	mergeCmd := flag.NewFlagSet("merge", flag.ContinueOnError)
	mergeFile := mergeCmd.String("file", "", "The descriptor file; '-' or no file reads stdin.")
	mergeDatasource := mergeCmd.String("datasource", "", "The datasource of the node to update.")
	mergeUpdates := mergeCmd.String("updates", "", "The updates, as a JSON object.")

	paginateCmd := flag.NewFlagSet("paginate", flag.ContinueOnError)
	paginateFile := paginateCmd.String("file", "", "The descriptor file; '-' or no file reads stdin.")
	paginateOffset := paginateCmd.Int("offset", 0, "The page offset.")
	paginateLimit := paginateCmd.Int("limit", 0, "The page size.")

	presetCmd := flag.NewFlagSet("preset", flag.ContinueOnError)
	presetName := presetCmd.String("name", "", "The preset name: "+strings.Join(querydesc.Presets(), ", "))

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenSubject := tokenCmd.String("subject", "", "The token subject, owner of the queries.")
	tokenUsername := tokenCmd.String("username", "", "The username.")
	tokenEmail := tokenCmd.String("email", "", "The email.")
	tokenAdmin := tokenCmd.Bool("admin", false, "Grant the admin role.")

	for _, fs := range []*flag.FlagSet{validateCmd, datasourcesCmd, mergeCmd, paginateCmd, presetCmd, tokenCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "validate":
		if err := validateCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		d, err := cli.readDescriptor(*validateFile)
		if err != nil {
			return err
		}
		return cli.validateDescriptor(d)

	case "datasources":
		if err := datasourcesCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		d, err := cli.readDescriptor(*datasourcesFile)
		if err != nil {
			return err
		}
		if err = cli.validateDescriptor(d); err != nil {
			return err
		}
		for _, name := range cli.store.Datasources(d) {
			fmt.Fprintln(cli.out, name)
		}
		return nil

	case "merge":
		if err := mergeCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if core.CleanString(*mergeDatasource) == "" || core.CleanString(*mergeUpdates) == "" {
			mergeCmd.Usage()
			return errHelp
		}
		d, err := cli.readDescriptor(*mergeFile)
		if err != nil {
			return err
		}
		if err = cli.validateDescriptor(d); err != nil {
			return err
		}
		return cli.merge(d, core.CleanString(*mergeDatasource), *mergeUpdates)

	case "paginate":
		if err := paginateCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *paginateOffset < 0 || *paginateLimit < 0 {
			paginateCmd.Usage()
			return errHelp
		}
		d, err := cli.readDescriptor(*paginateFile)
		if err != nil {
			return err
		}
		if err = cli.validateDescriptor(d); err != nil {
			return err
		}
		return cli.print(cli.store.Paginate(d, *paginateOffset, *paginateLimit))

	case "preset":
		if err := presetCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *presetName == "" {
			presetCmd.Usage()
			return errHelp
		}
		d, err := querydesc.Preset(core.CleanString(*presetName, true /* lower */))
		if err != nil {
			return err
		}
		return cli.print(d)

	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if core.CleanString(*tokenSubject) == "" {
			tokenCmd.Usage()
			return errHelp
		}
		var roles []string
		if *tokenAdmin {
			roles = append(roles, echoapi.RoleAdmin)
		}
		claims := echoapi.NewClaims(cli.conf, core.CleanString(*tokenSubject), *tokenUsername, *tokenEmail, roles...)
		token, err := echoapi.GenerateToken(cli.conf, claims)
		if err != nil {
			return err
		}
		fmt.Fprintln(cli.out, token)
		return nil

	case "migrate":
		if len(args) < 3 {
			fmt.Fprintln(cli.out, "Usage: migrate up|up-by-one|up-to|down|down-to|redo|reset|status|version|create|fix [ARGS]")
			return errHelp
		}
		return cli.migrate(args[2:])

	default:
		cli.printUsage()
		return errHelp
	}
}

// readDescriptor reads the descriptor from `file`, or from stdin when it is piped.
func (cli *commandLine) readDescriptor(file string) (querydesc.Descriptor, error) {
	var d querydesc.Descriptor

	var r io.Reader
	switch file {
	case "", "-":
		if file == "" && isTerminalFunc(int(syscall.Stdin)) {
			return d, errNoInput
		}
		r = cli.in
	default:
		f, err := os.Open(file)
		if err != nil {
			return d, err
		}
		defer f.Close()
		r = f
	}

	data, err := ioutil.ReadAll(r)
	if err != nil {
		return d, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return d, errNoInput
	}
	if err = json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("decoding descriptor: %w", err)
	}
	return d, nil
}

// validateDescriptor prints the translated validation errors, if any.
func (cli *commandLine) validateDescriptor(d querydesc.Descriptor) error {
	err := querydesc.Validate(cli.validate, d)
	if err == nil {
		return nil
	}
	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) {
		return err
	}
	fields := core.TranslateErrors(vErrs, cli.translator)
	for _, key := range sortedKeys(fields) {
		fmt.Fprintf(cli.out, "%s: %s\n", key, fields[key])
	}
	return errNotValid
}

func (cli *commandLine) merge(d querydesc.Descriptor, datasource, updates string) error {
	var u querydesc.NodeUpdate
	if err := json.Unmarshal([]byte(updates), &u); err != nil {
		return fmt.Errorf("decoding updates: %w", err)
	}
	if err := cli.validate.Struct(u); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			fields := core.TranslateErrors(vErrs, cli.translator)
			for _, key := range sortedKeys(fields) {
				fmt.Fprintf(cli.out, "%s: %s\n", key, fields[key])
			}
			return errNotValid
		}
		return err
	}
	// a miss prints the descriptor unchanged, the store logs it
	return cli.print(cli.store.Merge(d, datasource, u))
}

func (cli *commandLine) print(d querydesc.Descriptor) error {
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}
