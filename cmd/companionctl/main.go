// companionctl drives the client core from a terminal: link this machine to
// an account, approve another device's request, inspect sessions, and poke
// the versioned key-value store.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/denysvitali/happy-flutter-sub000/internal/api"
	"github.com/denysvitali/happy-flutter-sub000/internal/audit"
	"github.com/denysvitali/happy-flutter-sub000/internal/backup"
	"github.com/denysvitali/happy-flutter-sub000/internal/creds"
	"github.com/denysvitali/happy-flutter-sub000/internal/crypto"
	"github.com/denysvitali/happy-flutter-sub000/internal/enc"
	"github.com/denysvitali/happy-flutter-sub000/internal/engine"
	"github.com/denysvitali/happy-flutter-sub000/internal/kv"
	"github.com/denysvitali/happy-flutter-sub000/internal/linking"
	"github.com/denysvitali/happy-flutter-sub000/internal/platform"
	"github.com/denysvitali/happy-flutter-sub000/internal/qr"
	"github.com/denysvitali/happy-flutter-sub000/internal/store"
)

func main() {
	_ = platform.DisableCoreDumps()

	// ---- link ----
	linkCmd := flag.NewFlagSet("link", flag.ExitOnError)
	linkServer := linkCmd.String("server", defaultServer(), "API base URL")
	linkData := linkCmd.String("data", defaultDataDir(), "data directory")
	linkTimeout := linkCmd.Duration("timeout", 2*time.Minute, "how long to wait for approval")

	// ---- approve ----
	approveCmd := flag.NewFlagSet("approve", flag.ExitOnError)
	approveServer := approveCmd.String("server", defaultServer(), "API base URL")
	approveData := approveCmd.String("data", defaultDataDir(), "data directory")
	approveQR := approveCmd.String("qr", "", "scanned QR payload from the new device")

	// ---- backup-key ----
	backupCmd := flag.NewFlagSet("backup-key", flag.ExitOnError)
	backupData := backupCmd.String("data", defaultDataDir(), "data directory")
	backupCopy := backupCmd.Bool("copy", false, "copy to clipboard instead of printing")

	// ---- restore ----
	restoreCmd := flag.NewFlagSet("restore", flag.ExitOnError)
	restoreData := restoreCmd.String("data", defaultDataDir(), "data directory")
	restoreKey := restoreCmd.String("key", "", "backup key (XXXX-XXXX-... form)")
	restoreToken := restoreCmd.String("token", "", "bearer token for this device")

	// ---- sessions ----
	sessionsCmd := flag.NewFlagSet("sessions", flag.ExitOnError)
	sessionsServer := sessionsCmd.String("server", defaultServer(), "API base URL")
	sessionsData := sessionsCmd.String("data", defaultDataDir(), "data directory")

	// ---- kv-get / kv-set ----
	kvGetCmd := flag.NewFlagSet("kv-get", flag.ExitOnError)
	kvGetServer := kvGetCmd.String("server", defaultServer(), "API base URL")
	kvGetData := kvGetCmd.String("data", defaultDataDir(), "data directory")
	kvGetKey := kvGetCmd.String("key", "", "key to read")

	kvSetCmd := flag.NewFlagSet("kv-set", flag.ExitOnError)
	kvSetServer := kvSetCmd.String("server", defaultServer(), "API base URL")
	kvSetData := kvSetCmd.String("data", defaultDataDir(), "data directory")
	kvSetKey := kvSetCmd.String("key", "", "key to write")
	kvSetValue := kvSetCmd.String("value", "", "value (JSON or plain text)")
	kvSetVersion := kvSetCmd.Int64("version", 0, "expected current version (-1 to create)")

	// ---- audit ----
	auditCmd := flag.NewFlagSet("audit", flag.ExitOnError)
	auditData := auditCmd.String("data", defaultDataDir(), "data directory")

	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "link":
		_ = linkCmd.Parse(os.Args[2:])
		env, err := openEnv(*linkData)
		dieIf(err)
		defer env.close()
		dieIf(cmdLink(env, *linkServer, *linkTimeout))

	case "approve":
		_ = approveCmd.Parse(os.Args[2:])
		env, err := openEnv(*approveData)
		dieIf(err)
		defer env.close()
		dieIf(cmdApprove(env, *approveServer, *approveQR))

	case "backup-key":
		_ = backupCmd.Parse(os.Args[2:])
		env, err := openEnv(*backupData)
		dieIf(err)
		defer env.close()
		dieIf(cmdBackupKey(env, *backupCopy))

	case "restore":
		_ = restoreCmd.Parse(os.Args[2:])
		env, err := openEnv(*restoreData)
		dieIf(err)
		defer env.close()
		dieIf(cmdRestore(env, *restoreKey, *restoreToken))

	case "sessions":
		_ = sessionsCmd.Parse(os.Args[2:])
		env, err := openEnv(*sessionsData)
		dieIf(err)
		defer env.close()
		dieIf(cmdSessions(env, *sessionsServer))

	case "kv-get":
		_ = kvGetCmd.Parse(os.Args[2:])
		env, err := openEnv(*kvGetData)
		dieIf(err)
		defer env.close()
		dieIf(cmdKVGet(env, *kvGetServer, *kvGetKey))

	case "kv-set":
		_ = kvSetCmd.Parse(os.Args[2:])
		env, err := openEnv(*kvSetData)
		dieIf(err)
		defer env.close()
		dieIf(cmdKVSet(env, *kvSetServer, *kvSetKey, *kvSetValue, *kvSetVersion))

	case "audit":
		_ = auditCmd.Parse(os.Args[2:])
		env, err := openEnv(*auditData)
		dieIf(err)
		defer env.close()
		dieIf(cmdAudit(env))

	default:
		usage()
	}
}

// env bundles what every command needs: the sealed local store, the
// credential store, and the audit log.
type env struct {
	local  store.Local
	creds  *creds.Store
	log    *audit.Log
	logger *zap.Logger
}

func openEnv(dataDir string) (*env, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	storeKey, err := storeKeyFor(platform.NewKeychain(dataDir))
	if err != nil {
		return nil, err
	}

	local, err := store.Open(store.Config{
		Path:     filepath.Join(dataDir, "db"),
		StoreKey: storeKey,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	log, err := audit.New(local)
	if err != nil {
		local.Close()
		return nil, err
	}
	return &env{
		local:  local,
		creds:  creds.NewStore(local),
		log:    log,
		logger: logger,
	}, nil
}

// storeKeyFor derives the at-rest key for the local store: argon2id over a
// passphrase, with the salt persisted in the keychain. The passphrase comes
// from HAPPY_PASSPHRASE; unattended setups fall back to a device passphrase
// generated once and kept in the keychain.
func storeKeyFor(kc platform.Keychain) ([32]byte, error) {
	var zero [32]byte

	params := crypto.DefaultStoreKDF()
	salt, err := kc.Load("store-salt")
	if errors.Is(err, platform.ErrKeychainMiss) {
		salt = params.Salt
		err = kc.Store("store-salt", salt)
	}
	if err != nil {
		return zero, err
	}
	params.Salt = salt

	pass := []byte(os.Getenv("HAPPY_PASSPHRASE"))
	if len(pass) == 0 {
		pass, err = kc.Load("device-pass")
		if errors.Is(err, platform.ErrKeychainMiss) {
			pass = make([]byte, 32)
			if _, rerr := rand.Read(pass); rerr != nil {
				return zero, rerr
			}
			err = kc.Store("device-pass", pass)
		}
		if err != nil {
			return zero, err
		}
	}
	key := crypto.StretchPassphrase(pass, params)
	crypto.Zero(pass)
	return key, nil
}

func (e *env) close() {
	_ = e.local.Close()
	_ = e.logger.Sync()
}

// apiClient builds an authenticated client from the stored credentials.
func (e *env) apiClient(server string) (*api.Client, creds.Credentials, error) {
	c, err := e.creds.Load()
	if err != nil {
		return nil, creds.Credentials{}, err
	}
	client, err := api.New(api.Config{BaseURL: server, Token: c.Token, Logger: e.logger})
	return client, c, err
}

func cmdLink(e *env, server string, timeout time.Duration) error {
	client, err := api.New(api.Config{BaseURL: server, Logger: e.logger})
	if err != nil {
		return err
	}
	linker, err := linking.New(linking.Config{
		API:    client,
		Creds:  e.creds,
		Kind:   qr.KindAccount,
		Logger: e.logger,
		OnError: func(perr error) {
			fmt.Fprintf(os.Stderr, "still waiting: %v\n", perr)
		},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	payload, err := linker.Start(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Scan this on an already-linked device:")
	fmt.Println()
	fmt.Println("  " + payload)
	fmt.Println()
	fmt.Println("Waiting for approval...")

	if _, err := linker.Poll(ctx); err != nil {
		return err
	}
	if _, err := e.log.Append(audit.EventDeviceLinked); err != nil {
		return err
	}
	fmt.Println("Linked. Credentials stored.")
	return nil
}

func cmdApprove(e *env, server, payload string) error {
	if payload == "" {
		return errors.New("approve: --qr is required")
	}
	req, err := qr.Parse(payload)
	if err != nil {
		return err
	}
	client, c, err := e.apiClient(server)
	if err != nil {
		return err
	}
	accepted, err := linking.Approve(context.Background(), client, c.Secret, req.PublicKey)
	if err != nil {
		return err
	}
	if !accepted {
		_, _ = e.log.Append(audit.EventLinkRejected)
		fmt.Println("Request was not accepted.")
		return nil
	}
	if _, err := e.log.Append(audit.EventLinkApproved); err != nil {
		return err
	}
	fmt.Println("Device approved.")
	return nil
}

func cmdBackupKey(e *env, toClipboard bool) error {
	c, err := e.creds.Load()
	if err != nil {
		return err
	}
	var secret [backup.SecretSize]byte
	copy(secret[:], c.Secret)
	key := backup.Encode(secret)
	if toClipboard {
		return platform.NewClipboard().Set(key, 30*time.Second)
	}
	fmt.Println(key)
	return nil
}

func cmdRestore(e *env, key, token string) error {
	if key == "" || token == "" {
		return errors.New("restore: --key and --token are required")
	}
	secret, err := backup.Decode(key)
	if err != nil {
		return err
	}
	if err := e.creds.Save(creds.Credentials{Token: token, Secret: secret[:]}); err != nil {
		return err
	}
	if _, err := e.log.Append(audit.EventSecretRestored); err != nil {
		return err
	}
	fmt.Println("Account restored on this device.")
	return nil
}

func cmdSessions(e *env, server string) error {
	client, c, err := e.apiClient(server)
	if err != nil {
		return err
	}
	mgr := enc.NewManager(e.local, e.logger)
	if err := mgr.Initialize(c.Secret); err != nil {
		return err
	}
	defer mgr.Teardown()

	eng, err := engine.New(engine.Config{
		API:    client,
		Enc:    mgr,
		Creds:  c,
		Logger: e.logger,
	})
	if err != nil {
		return err
	}
	defer eng.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		return err
	}

	for _, s := range eng.Sessions() {
		state := "inactive"
		if s.Active {
			state = "active"
		}
		if s.Undecryptable {
			state = "undecryptable"
		}
		fmt.Printf("%-26s %-14s seq=%d %s\n", s.ID, state, s.Seq, compactJSON(s.Metadata))
	}
	return nil
}

func cmdKVGet(e *env, server, key string) error {
	if key == "" {
		return errors.New("kv-get: --key is required")
	}
	client, c, err := e.apiClient(server)
	if err != nil {
		return err
	}
	mgr := enc.NewManager(e.local, e.logger)
	if err := mgr.Initialize(c.Secret); err != nil {
		return err
	}
	defer mgr.Teardown()

	rec, err := kv.New(client, mgr, e.logger).Get(context.Background(), key)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Println("(absent)")
		return nil
	}
	fmt.Printf("version=%d %s\n", rec.Version, rec.Value)
	return nil
}

func cmdKVSet(e *env, server, key, value string, version int64) error {
	if key == "" {
		return errors.New("kv-set: --key is required")
	}
	client, c, err := e.apiClient(server)
	if err != nil {
		return err
	}
	mgr := enc.NewManager(e.local, e.logger)
	if err := mgr.Initialize(c.Secret); err != nil {
		return err
	}
	defer mgr.Teardown()

	next, err := kv.New(client, mgr, e.logger).Set(context.Background(), key, []byte(value), version)
	var conflict *kv.ConflictError
	if errors.As(err, &conflict) {
		for _, cf := range conflict.Conflicts {
			fmt.Fprintf(os.Stderr, "conflict on %s: current version %d (%s)\n",
				cf.Key, cf.CurrentVersion, cf.Reason)
		}
		return err
	}
	if err != nil {
		return err
	}
	fmt.Printf("ok, version=%d\n", next)
	return nil
}

func cmdAudit(e *env) error {
	if err := e.log.Verify(); err != nil {
		return err
	}
	for _, entry := range e.log.Entries() {
		fmt.Printf("%s  %-22s %s\n",
			time.Unix(entry.TS, 0).Format(time.RFC3339), entry.What, entry.Hash[:16])
	}
	fmt.Println("chain ok")
	return nil
}

func compactJSON(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return ""
	}
	if name, ok := out["name"].(string); ok {
		return name
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func defaultServer() string {
	if s := os.Getenv("HAPPY_SERVER"); s != "" {
		return s
	}
	return "https://api.happy.engineering"
}

func defaultDataDir() string {
	if d := os.Getenv("HAPPY_DATA"); d != "" {
		return d
	}
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "happy")
}

func usage() {
	fmt.Print(`companionctl commands:

  link        --server URL [--data dir --timeout 2m]
              register this machine and wait for approval from a linked device

  approve     --qr PAYLOAD [--server URL --data dir]
              approve a new device's linking request

  backup-key  [--copy --data dir]
              show (or copy) the account recovery key

  restore     --key XXXX-XXXX-... --token TOKEN [--data dir]
              restore the account from a backup key

  sessions    [--server URL --data dir]
              list sessions with decrypted names

  kv-get      --key KEY [--server URL --data dir]
  kv-set      --key KEY --value VALUE [--version N] (-1 creates)

  audit       [--data dir]
              print and verify the local security event log
`)
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
