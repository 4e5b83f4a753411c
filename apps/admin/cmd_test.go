package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"

	echoapi "github.com/trezcool/querydesc/apps/api/echo"
	"github.com/trezcool/querydesc/core"
	"github.com/trezcool/querydesc/core/querydesc"
	"github.com/trezcool/querydesc/tests"
)

const recordsJSON = `{
  "limit": 10,
  "getThisData": {
    "datasource": "Record",
    "where": {"name": null},
    "include": [
      {"datasource": "Stakeholder", "as": "stakeholder", "where": {"stakeholderId": null}}
    ]
  }
}`

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	validate, translator := testutil.NewValidator()
	querydesc.InitValidators(validate, translator, 3)
	logger = testutil.NewLogger()

	isTerminalFunc = func(fd int) bool { return false }

	conf := &core.Config{AppName: "Querydesc", SecretKey: "secret", TestMode: true}
	conf.Server.JWTExpirationDelta = time.Hour

	out := new(bytes.Buffer)
	return &commandLine{
		conf:       conf,
		store:      querydesc.NewStore(logger),
		validate:   validate,
		translator: translator,
		in:         strings.NewReader(""),
		out:        out,
		openDB:     func() (*sql.DB, error) { return nil, nil },
	}, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	stdin      string
	wantErr    error
	wantErrStr string
	wantOut    string
}

func runCLITests(t *testing.T, cli *commandLine, out *bytes.Buffer, tests []cliTest) {
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			cli.in = strings.NewReader(tt.stdin)

			if err := cli.run(args); err != nil {
				if tt.wantErr != nil {
					if err != tt.wantErr {
						t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
					}
				} else if tt.wantErrStr != "" {
					if err.Error() != tt.wantErrStr {
						t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
					}
				} else {
					t.Errorf("cli.run() unexpected error = %v", err)
				}
			} else if tt.wantErr != nil || tt.wantErrStr != "" {
				t.Errorf("cli.run() error = nil, want an error")
			}
			if tt.wantOut != "" && !strings.Contains(out.String(), tt.wantOut) {
				t.Errorf("cli.run() output = %q, want it to contain %q", out.String(), tt.wantOut)
			}
		})
	}
}

func decodeOutput(t *testing.T, out *bytes.Buffer) querydesc.Descriptor {
	var d querydesc.Descriptor
	if err := json.Unmarshal(out.Bytes(), &d); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, output %q", err, out.String())
	}
	return d
}

func Test_commandLine_run(t *testing.T) {
	cli, out := setup(t)

	runCLITests(t, cli, out, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp, wantOut: "Usage:"},
		{name: "help flag", args: []string{"validate", "-h"}, wantErr: errHelp},
	})
}

func Test_commandLine_validate(t *testing.T) {
	cli, out := setup(t)

	file := filepath.Join(t.TempDir(), "records.json")
	if err := ioutil.WriteFile(file, []byte(recordsJSON), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	runCLITests(t, cli, out, []cliTest{
		{name: "from file", args: []string{"validate", "-file", file}},
		{name: "from stdin", args: []string{"validate", "-file", "-"}, stdin: recordsJSON},
		{name: "piped stdin", args: []string{"validate"}, stdin: recordsJSON},
		{name: "empty stdin", args: []string{"validate"}, wantErr: errNoInput},
		{
			name:    "invalid",
			args:    []string{"validate"},
			stdin:   `{"getThisData": {"datasource": "Record", "include": [{"datasource": "Record"}]}}`,
			wantErr: errNotValid,
			wantOut: "getThisData: datasource Record is used by more than one node",
		},
		{name: "malformed", args: []string{"validate"}, stdin: `{"getThisData": [`, wantErrStr: "decoding descriptor: unexpected end of JSON input"},
	})

	t.Run("missing file", func(t *testing.T) {
		if err := cli.run([]string{"admin", "validate", "-file", filepath.Join(t.TempDir(), "lol.json")}); !os.IsNotExist(err) {
			t.Errorf("cli.run() error = %v, want a not exist error", err)
		}
	})

	t.Run("terminal stdin", func(t *testing.T) {
		isTerminalFunc = func(fd int) bool { return true }
		defer func() { isTerminalFunc = func(fd int) bool { return false } }()

		if err := cli.run([]string{"admin", "validate"}); err != errNoInput {
			t.Errorf("cli.run() error = %v, wantErr %v", err, errNoInput)
		}
	})
}

func Test_commandLine_datasources(t *testing.T) {
	cli, out := setup(t)

	runCLITests(t, cli, out, []cliTest{
		{name: "pre-order", args: []string{"datasources"}, stdin: recordsJSON, wantOut: "Record\nStakeholder\n"},
		{name: "invalid", args: []string{"datasources"}, stdin: `{"limit": 10}`, wantErr: errNotValid, wantOut: "getThisData: this field is required"},
	})
}

func Test_commandLine_merge(t *testing.T) {
	cli, out := setup(t)

	runCLITests(t, cli, out, []cliTest{
		{name: "no args", args: []string{"merge"}, stdin: recordsJSON, wantErr: errHelp},
		{name: "no updates", args: []string{"merge", "-datasource", "Record"}, stdin: recordsJSON, wantErr: errHelp},
		{
			name:    "unknown datasource",
			args:    []string{"merge", "-datasource", "Nope", "-updates", `{"where": {"x": 1}}`},
			stdin:   recordsJSON,
			wantOut: `"datasource": "Record"`,
		},
		{
			name:       "bad updates",
			args:       []string{"merge", "-datasource", "Record", "-updates", `[]`},
			stdin:      recordsJSON,
			wantErrStr: "decoding updates: json: cannot unmarshal array into Go value of type querydesc.nodeUpdateAlias",
		},
		{
			name:    "bad direction",
			args:    []string{"merge", "-datasource", "Record", "-updates", `{"order": [["name", "UP"]]}`},
			stdin:   recordsJSON,
			wantErr: errNotValid,
			wantOut: "order[0].direction: direction must be one of [ASC DESC]",
		},
	})

	t.Run("miss is logged", func(t *testing.T) {
		out.Reset()
		cli.in = strings.NewReader(recordsJSON)
		if err := cli.run([]string{"admin", "merge", "-datasource", "Stakeholdr", "-updates", `{"where": {"x": 1}}`}); err != nil {
			t.Fatalf("cli.run() error = %v", err)
		}
		d := decodeOutput(t, out)
		if _, ok := d.Root.Where["x"]; ok {
			t.Error("merge on a missing datasource changed the descriptor")
		}
		if !logger.(*testutil.Logger).Contains("info", `"Stakeholdr" not found`) {
			t.Error("lookup miss not logged")
		}
	})

	t.Run("nested where", func(t *testing.T) {
		out.Reset()
		cli.in = strings.NewReader(recordsJSON)
		args := []string{"admin", "merge", "-datasource", "Stakeholder", "-updates", `{"where": {"stakeholderId": 42}}`}
		if err := cli.run(args); err != nil {
			t.Fatalf("cli.run() error = %v", err)
		}
		d := decodeOutput(t, out)
		if got := d.Root.Include[0].Where["stakeholderId"]; got != float64(42) {
			t.Errorf("stakeholderId = %v, want 42", got)
		}
		if _, ok := d.Root.Where["name"]; !ok {
			t.Error("root where lost the name key")
		}
	})
}

func Test_commandLine_paginate(t *testing.T) {
	cli, out := setup(t)

	runCLITests(t, cli, out, []cliTest{
		{name: "negative offset", args: []string{"paginate", "-offset", "-1"}, stdin: recordsJSON, wantErr: errHelp},
		{name: "bad limit", args: []string{"paginate", "-limit", "lol"}, stdin: recordsJSON, wantErr: errHelp},
	})

	out.Reset()
	cli.in = strings.NewReader(recordsJSON)
	if err := cli.run([]string{"admin", "paginate", "-offset", "20", "-limit", "5"}); err != nil {
		t.Fatalf("cli.run() error = %v", err)
	}
	d := decodeOutput(t, out)
	if d.Offset != 20 || d.Limit != 5 {
		t.Errorf("window = (%d, %d), want (20, 5)", d.Offset, d.Limit)
	}
}

func Test_commandLine_preset(t *testing.T) {
	cli, out := setup(t)

	runCLITests(t, cli, out, []cliTest{
		{name: "no name", args: []string{"preset"}, wantErr: errHelp},
		{name: "unknown", args: []string{"preset", "-name", "lol"}, wantErrStr: "lol: unknown preset"},
		{name: "records", args: []string{"preset", "-name", " Records "}, wantOut: `"datasource": "Record"`},
	})
}

func Test_commandLine_token(t *testing.T) {
	cli, out := setup(t)

	runCLITests(t, cli, out, []cliTest{
		{name: "no subject", args: []string{"token"}, wantErr: errHelp},
		{name: "blank subject", args: []string{"token", "-subject", " "}, wantErr: errHelp},
	})

	out.Reset()
	if err := cli.run([]string{"admin", "token", "-subject", "awe", "-username", "awe", "-admin"}); err != nil {
		t.Fatalf("cli.run() error = %v", err)
	}

	claims := new(echoapi.Claims)
	_, err := jwt.ParseWithClaims(strings.TrimSpace(out.String()), claims, func(*jwt.Token) (interface{}, error) {
		return []byte(cli.conf.SecretKey), nil
	})
	if err != nil {
		t.Fatalf("jwt.ParseWithClaims() error = %v", err)
	}
	if claims.Subject != "awe" || claims.Username != "awe" {
		t.Errorf("claims = %+v, want subject & username awe", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != echoapi.RoleAdmin {
		t.Errorf("claims.Roles = %v, want [%s]", claims.Roles, echoapi.RoleAdmin)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, out := setup(t)

	gooseRunFunc = func(_ context.Context, db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	runCLITests(t, cli, out, []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "1"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "0"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "saved_filter", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	})
}
