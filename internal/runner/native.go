package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dbmaintain/dbmaintain/internal/db"
	"github.com/dbmaintain/dbmaintain/internal/script"
)

const outputTail = 20

// NativeRunner runs a script with an external program. The script is written
// to a temporary file that is passed to the program.
type NativeRunner struct {
	dbs    *db.Databases
	logger Logger
	args   func(d *db.Database, file string) (string, []string)
}

// NewShellRunner runs scripts with shell, passing the positional arguments
// user, password, database name, url, schema and dialect after the file.
func NewShellRunner(dbs *db.Databases, shell string, logger Logger) *NativeRunner {
	return &NativeRunner{dbs: dbs, logger: logger, args: func(d *db.Database, file string) (string, []string) {
		return shell, []string{file, d.User, d.Password, d.Name, d.DSN, d.DefaultSchema(), d.Dialect}
	}}
}

// NewLoaderRunner runs bulk load control files with command, invoked as
// "command userid=user/password@database control=file".
func NewLoaderRunner(dbs *db.Databases, command string, logger Logger) *NativeRunner {
	return &NativeRunner{dbs: dbs, logger: logger, args: func(d *db.Database, file string) (string, []string) {
		return command, []string{fmt.Sprintf("userid=%s/%s@%s", d.User, d.Password, d.Name), "control=" + file}
	}}
}

func (r *NativeRunner) Execute(ctx context.Context, s *script.Script) error {
	if s.Content() == nil {
		return fmt.Errorf("script %s has no content", s.FileName())
	}
	target, err := r.dbs.Get(s.TargetDatabase())
	if err != nil {
		return err
	}
	file, err := writeTemp(s)
	if err != nil {
		return err
	}
	defer os.Remove(file)

	name, args := r.args(target, file)
	cmd := exec.CommandContext(ctx, name, args...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	var tail []string
	var g errgroup.Group
	g.Go(func() error {
		sc := bufio.NewScanner(pr)
		for sc.Scan() {
			line := sc.Text()
			r.logger.Info("script output", "script", s.FileName(), "line", line)
			tail = append(tail, line)
			if len(tail) > outputTail {
				tail = tail[1:]
			}
		}
		// keep draining so the process never blocks on a full pipe
		_, _ = io.Copy(io.Discard, pr)
		return sc.Err()
	})

	runErr := cmd.Run()
	pw.Close()
	drainErr := g.Wait()
	if runErr != nil {
		return fmt.Errorf("script %s: %s failed: %w\n%s", s.FileName(), name, runErr, strings.Join(tail, "\n"))
	}
	if drainErr != nil {
		return fmt.Errorf("read output of script %s: %w", s.FileName(), drainErr)
	}
	r.logger.Info("script executed", "script", s.FileName(), "database", target.Name, "program", name)
	return nil
}

func writeTemp(s *script.Script) (string, error) {
	f, err := os.CreateTemp("", "dbmaintain-*."+s.Extension())
	if err != nil {
		return "", fmt.Errorf("create temp file for script %s: %w", s.FileName(), err)
	}
	if _, err := io.Copy(f, s.Content().Reader()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp file for script %s: %w", s.FileName(), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
