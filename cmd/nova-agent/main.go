// Command nova-agent runs live sales calls against the hosted
// conversational model and manages the lead database from the terminal.
//
// Usage:
//
//	nova-agent call   --lead <id> | --name <new lead name>
//	nova-agent leads  list|add|update|delete|export|import
//	nova-agent config show|set
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Alphas-DBS/Nova-Core/internal/dotenv"
	"github.com/Alphas-DBS/Nova-Core/pkg/core/session"
	"github.com/Alphas-DBS/Nova-Core/pkg/prompt"
	"github.com/Alphas-DBS/Nova-Core/pkg/store"
)

func main() {
	os.Exit(runMain())
}

func runMain() int {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}

	if len(os.Args) < 2 {
		usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "call":
		return runCall(ctx, os.Args[2:])
	case "leads":
		return runLeads(ctx, os.Args[2:])
	case "config":
		return runConfig(ctx, os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `nova-agent - realtime voice sales agent

Commands:
  call    run a live call with a lead (ffmpeg mic capture, ffplay playback)
  leads   list, add, update, delete leads; CSV export/import
  config  show or replace the agent knowledge base

Environment:
  GEMINI_API_KEY      API key for the hosted model (or GOOGLE_API_KEY)
  NOVA_DATABASE_URL   optional Postgres DSN; falls back to the local store

A .env file in the working directory is loaded if present.
`)
}

// openStore wires the two-tier store: Postgres when a DSN is configured,
// always backed by the local JSON store. A failed remote open degrades to
// local-only with a warning instead of aborting.
func openStore(ctx context.Context, dataDir string, debug bool) (store.Store, func(), error) {
	local, err := store.OpenLocal(dataDir)
	if err != nil {
		return nil, nil, err
	}

	debugFn := func(category, message string) {}
	if debug {
		debugFn = func(category, message string) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", category, message)
		}
	}

	dsn := strings.TrimSpace(os.Getenv("NOVA_DATABASE_URL"))
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		return store.NewTiered(nil, local, debugFn), func() {}, nil
	}

	remote, err := store.OpenPostgres(ctx, dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "remote store unavailable, using local store:", err)
		return store.NewTiered(nil, local, debugFn), func() {}, nil
	}
	return store.NewTiered(remote, local, debugFn), remote.Close, nil
}

func runCall(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	leadID := fs.String("lead", "", "ID of an existing lead to call")
	leadName := fs.String("name", "", "Create a new lead with this name and call them")
	leadPhone := fs.String("phone", "", "Phone number for a newly created lead")
	model := fs.String("model", "", "Model override (default: hosted live model)")
	voice := fs.String("voice", "", "Voice override (default: from agent config)")
	micDevice := fs.String("mic-device", defaultMicDevice(), "Microphone device (avfoundation index on macOS, pulse source otherwise)")
	noSpeaker := fs.Bool("no-speaker", false, "Do not spawn ffplay; model audio is discarded")
	meter := fs.Bool("meter", false, "Render a live level meter on stderr")
	dataDir := fs.String("data-dir", "nova-data", "Local store directory")
	debug := fs.Bool("debug", false, "Print controller diagnostics")
	_ = fs.Parse(args)

	apiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "missing GEMINI_API_KEY (or GOOGLE_API_KEY)")
		return 2
	}

	st, closeStore, err := openStore(ctx, *dataDir, *debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		return 1
	}
	defer closeStore()

	cfg, err := st.GetConfig(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			fmt.Fprintln(os.Stderr, "load agent config:", err)
			return 1
		}
		fmt.Fprintln(os.Stderr, "no agent config saved yet; running with an empty knowledge base (see `nova-agent config set`)")
	}
	if *voice == "" {
		*voice = cfg.VoiceName
	}

	lead, err := resolveLead(ctx, st, *leadID, *leadName, *leadPhone)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	callSession, err := st.CreateSession(ctx, lead.ID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "create call session:", err)
		return 1
	}

	runner := &callRunner{st: st, sessionID: callSession.ID, leadID: lead.ID}
	statusCh := make(chan session.Status, 8)

	callbacks := session.Callbacks{
		OnStatus: func(status session.Status) {
			fmt.Fprintf(os.Stderr, "status: %s\n", status)
			select {
			case statusCh <- status:
			default:
			}
		},
		OnTranscript: runner.onTranscript,
		OnLeadUpdate: runner.onLeadUpdate,
		OnRecording:  runner.onRecording,
	}
	if *meter {
		callbacks.OnVolume = func(level float64) {
			bars := int(level * 20)
			fmt.Fprintf(os.Stderr, "\rlevel [%-20s]", strings.Repeat("#", bars))
		}
	}
	if *debug {
		callbacks.OnDebug = func(category, message string) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", category, message)
		}
	}

	ctrl := session.New(session.Config{
		APIKey:         apiKey,
		Model:          *model,
		Voice:          *voice,
		Instructions:   prompt.Compile(cfg),
		OpenMicrophone: func() (io.ReadCloser, error) { return openMicrophone(*micDevice) },
		OpenSink: func() (session.Sink, error) {
			if *noSpeaker {
				return nil, fmt.Errorf("speaker disabled")
			}
			return openSpeaker()
		},
		Callbacks: callbacks,
	})

	fmt.Fprintf(os.Stderr, "calling %s (lead %s, session %s); Ctrl-C to hang up\n", lead.Name, lead.ID, callSession.ID)
	if err := ctrl.Connect(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		return 1
	}

	code := 0
	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case status := <-statusCh:
			if status == session.StatusError {
				fmt.Fprintln(os.Stderr, "session failed")
				code = 1
				done = true
			}
		}
	}

	ctrl.Disconnect()
	runner.finish(context.Background())
	fmt.Fprintf(os.Stderr, "call ended; session %s\n", callSession.ID)
	return code
}

func resolveLead(ctx context.Context, st store.Store, id, name, phone string) (store.Lead, error) {
	if id != "" {
		leads, err := st.ListLeads(ctx)
		if err != nil {
			return store.Lead{}, fmt.Errorf("list leads: %w", err)
		}
		for _, lead := range leads {
			if lead.ID == id {
				return lead, nil
			}
		}
		return store.Lead{}, fmt.Errorf("lead %q not found", id)
	}
	if name == "" {
		return store.Lead{}, fmt.Errorf("either --lead or --name is required")
	}
	lead, err := st.CreateLead(ctx, store.Lead{Name: name, Phone: phone, Status: "new"})
	if err != nil {
		return store.Lead{}, fmt.Errorf("create lead: %w", err)
	}
	return lead, nil
}

// callRunner persists what the controller reports during a call. Turn and
// lead writes run in goroutines so the controller callbacks never block;
// finish waits for them and attaches the recording.
type callRunner struct {
	st        store.Store
	sessionID string
	leadID    string

	mu  sync.Mutex
	wav []byte
	wg  sync.WaitGroup
}

func (r *callRunner) onTranscript(text, role string) {
	fmt.Printf("[%s] %s\n", role, text)
	turn := store.Turn{Role: role, Text: text, Timestamp: time.Now()}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.st.AppendTranscript(ctx, r.sessionID, []store.Turn{turn}); err != nil {
			fmt.Fprintln(os.Stderr, "persist transcript:", err)
		}
	}()
}

func (r *callRunner) onLeadUpdate(fields map[string]any) {
	patch, ok := leadPatchFromFields(fields)
	if !ok {
		return
	}
	fmt.Fprintln(os.Stderr, "lead update:", patchSummary(fields))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.st.UpdateLead(ctx, r.leadID, patch); err != nil {
			fmt.Fprintln(os.Stderr, "persist lead update:", err)
		}
	}()
}

func (r *callRunner) onRecording(wav []byte) {
	r.mu.Lock()
	r.wav = wav
	r.mu.Unlock()
}

func (r *callRunner) finish(ctx context.Context) {
	r.wg.Wait()
	r.mu.Lock()
	wav := r.wav
	r.mu.Unlock()
	if len(wav) == 0 {
		return
	}
	ref, err := r.st.AttachRecording(ctx, r.sessionID, wav)
	if err != nil {
		fmt.Fprintln(os.Stderr, "save recording:", err)
		return
	}
	fmt.Fprintln(os.Stderr, "recording saved:", ref)
}

// leadPatchFromFields sanitizes the model's update_lead arguments: only
// the known string fields survive, empty values are dropped.
func leadPatchFromFields(fields map[string]any) (store.LeadPatch, bool) {
	var patch store.LeadPatch
	touched := false
	take := func(key string, dst **string) {
		v, present := fields[key]
		if !present {
			return
		}
		s, isString := v.(string)
		if !isString {
			return
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		*dst = &s
		touched = true
	}
	take("phone", &patch.Phone)
	take("interestedIn", &patch.InterestedIn)
	take("notes", &patch.Notes)
	take("sentiment", &patch.Sentiment)
	take("status", &patch.Status)
	return patch, touched
}

func patchSummary(fields map[string]any) string {
	parts := make([]string, 0, len(fields))
	for _, key := range []string{"phone", "interestedIn", "notes", "sentiment", "status"} {
		if v, ok := fields[key].(string); ok && strings.TrimSpace(v) != "" {
			parts = append(parts, key+"="+strings.TrimSpace(v))
		}
	}
	return strings.Join(parts, " ")
}

func runLeads(ctx context.Context, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: nova-agent leads list|add|update|delete|export|import [flags]")
		return 2
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("leads "+sub, flag.ExitOnError)
	dataDir := fs.String("data-dir", "nova-data", "Local store directory")
	debug := fs.Bool("debug", false, "Print store diagnostics")

	var (
		id           = fs.String("id", "", "Lead ID")
		name         = fs.String("name", "", "Lead name")
		phone        = fs.String("phone", "", "Phone number")
		interestedIn = fs.String("interested-in", "", "Product or service of interest")
		notes        = fs.String("notes", "", "Notes")
		sentiment    = fs.String("sentiment", "", "Sentiment")
		status       = fs.String("status", "", "Pipeline status")
		file         = fs.String("file", "", "CSV file path (export/import)")
	)
	_ = fs.Parse(rest)

	st, closeStore, err := openStore(ctx, *dataDir, *debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		return 1
	}
	defer closeStore()

	switch sub {
	case "list":
		leads, err := st.ListLeads(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list leads:", err)
			return 1
		}
		for _, lead := range leads {
			fmt.Printf("%s\t%s\t%s\t%s\t%s\n", lead.ID, lead.Name, lead.Phone, lead.Status, lead.InterestedIn)
		}
		return 0

	case "add":
		if strings.TrimSpace(*name) == "" {
			fmt.Fprintln(os.Stderr, "--name is required")
			return 2
		}
		lead, err := st.CreateLead(ctx, store.Lead{
			Name:         *name,
			Phone:        *phone,
			InterestedIn: *interestedIn,
			Notes:        *notes,
			Sentiment:    *sentiment,
			Status:       orDefault(*status, "new"),
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "create lead:", err)
			return 1
		}
		fmt.Println(lead.ID)
		return 0

	case "update":
		if *id == "" {
			fmt.Fprintln(os.Stderr, "--id is required")
			return 2
		}
		var patch store.LeadPatch
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "name":
				patch.Name = name
			case "phone":
				patch.Phone = phone
			case "interested-in":
				patch.InterestedIn = interestedIn
			case "notes":
				patch.Notes = notes
			case "sentiment":
				patch.Sentiment = sentiment
			case "status":
				patch.Status = status
			}
		})
		if err := st.UpdateLead(ctx, *id, patch); err != nil {
			fmt.Fprintln(os.Stderr, "update lead:", err)
			return 1
		}
		return 0

	case "delete":
		if *id == "" {
			fmt.Fprintln(os.Stderr, "--id is required")
			return 2
		}
		if err := st.DeleteLead(ctx, *id); err != nil {
			fmt.Fprintln(os.Stderr, "delete lead:", err)
			return 1
		}
		return 0

	case "export":
		leads, err := st.ListLeads(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list leads:", err)
			return 1
		}
		out := io.Writer(os.Stdout)
		if *file != "" {
			f, err := os.Create(*file)
			if err != nil {
				fmt.Fprintln(os.Stderr, "create export file:", err)
				return 1
			}
			defer f.Close()
			out = f
		}
		if err := store.ExportLeadsCSV(out, leads); err != nil {
			fmt.Fprintln(os.Stderr, "export leads:", err)
			return 1
		}
		return 0

	case "import":
		if *file == "" {
			fmt.Fprintln(os.Stderr, "--file is required")
			return 2
		}
		f, err := os.Open(*file)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open import file:", err)
			return 1
		}
		defer f.Close()
		leads, err := store.ImportLeadsCSV(f)
		if err != nil {
			fmt.Fprintln(os.Stderr, "parse csv:", err)
			return 1
		}
		created := 0
		for _, lead := range leads {
			if _, err := st.CreateLead(ctx, lead); err != nil {
				fmt.Fprintln(os.Stderr, "create lead:", err)
				return 1
			}
			created++
		}
		fmt.Fprintf(os.Stderr, "imported %d leads\n", created)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "unknown leads subcommand %q\n", sub)
		return 2
	}
}

func runConfig(ctx context.Context, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: nova-agent config show|set [flags]")
		return 2
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("config "+sub, flag.ExitOnError)
	dataDir := fs.String("data-dir", "nova-data", "Local store directory")
	debug := fs.Bool("debug", false, "Print store diagnostics")
	file := fs.String("file", "", "Agent config JSON file (set)")
	_ = fs.Parse(rest)

	st, closeStore, err := openStore(ctx, *dataDir, *debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		return 1
	}
	defer closeStore()

	switch sub {
	case "show":
		cfg, err := st.GetConfig(ctx)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				fmt.Fprintln(os.Stderr, "no agent config saved")
				return 1
			}
			fmt.Fprintln(os.Stderr, "load config:", err)
			return 1
		}
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "encode config:", err)
			return 1
		}
		fmt.Println(string(data))
		return 0

	case "set":
		if *file == "" {
			fmt.Fprintln(os.Stderr, "--file is required")
			return 2
		}
		data, err := os.ReadFile(*file)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read config file:", err)
			return 1
		}
		var cfg store.AgentConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			fmt.Fprintln(os.Stderr, "parse config file:", err)
			return 1
		}
		if err := st.SaveConfig(ctx, cfg); err != nil {
			fmt.Fprintln(os.Stderr, "save config:", err)
			return 1
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "unknown config subcommand %q\n", sub)
		return 2
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
