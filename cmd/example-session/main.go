package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/peterh/liner"

	"github.com/mindsim/layermem/pkg/config"
	"github.com/mindsim/layermem/pkg/layermem"
	"github.com/mindsim/layermem/pkg/log"
	"github.com/mindsim/layermem/pkg/mem/knowledge"
	"github.com/mindsim/layermem/pkg/persona"
)

// Constants for the command-line interface
const (
	cmdHelp     = "!help"
	cmdQuit     = "!quit"
	cmdPersona  = "!persona"
	cmdSession  = "!session"
	cmdRemember = "!remember"
	cmdImport   = "!import"
	cmdExchange = "!exchange"
	cmdRetrieve = "!retrieve"
	cmdSearch   = "!search"
	cmdInsight  = "!insight"
	cmdReflect  = "!reflect"
	cmdStats    = "!stats"
	cmdOptimize = "!optimize"
	cmdConfig   = "!config"
)

// Command-line help text
const helpText = `
LayerMem Session Client - Command Reference:
--------------------------------------------
!help                      - Show this help message
!persona <id>              - Switch to another persona
!session                   - Show the current session
!session new               - Start a new session
!session end               - End the current session
!session list              - List the persona's sessions
!remember <text>           - Add a document to foundation knowledge
!import <path>             - Import a text file into foundation knowledge
!exchange <client> :: <reply> - Record one client/persona exchange
!retrieve <query>          - Retrieve layered context for a query
!search <query>            - Search foundation knowledge directly
!insight <text>            - Store a synthesized insight
!reflect                   - Print the reflection prompt for this session
!stats                     - Show operation counters and timings
!optimize                  - Compress embeddings and evict idle collections
!config                    - Show current configuration
!quit                      - Exit the application

Notes:
- Regular text input is treated as a retrieval query
- Tab completion is available for commands
- Use up/down arrows for command history
- A reflection hint appears when the session hits the configured frequency`

// historyFile is the file where command history is stored
const historyFile = ".layermem_history"

// replState carries the mutable CLI state between commands.
type replState struct {
	runtime *layermem.Runtime
	cfg     *config.Config
	manager *layermem.Manager
	session string
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults apply when empty)")
	personaID := flag.String("persona", "dr-morgan", "Persona to operate as")
	stdinMode := flag.Bool("s", false, "Read from stdin and exit when complete")
	flag.Parse()

	// A .env file is optional; it carries OPENAI_API_KEY and DSNs in dev setups.
	_ = godotenv.Load()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}
	log.Setup(log.Config{
		Level:  log.Level(cfg.Logging.Level),
		Format: log.Format(cfg.Logging.Format),
	})

	rt, err := layermem.NewRuntimeFromConfig(cfg)
	if err != nil {
		log.Error("Failed to initialize runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	mgr, err := rt.Manager(persona.ID(*personaID))
	if err != nil {
		log.Error("Failed to create persona manager", "error", err)
		os.Exit(1)
	}

	state := &replState{runtime: rt, cfg: cfg, manager: mgr}
	runCLI(state, *stdinMode)
}

// runCLI starts the command-line interface for user interaction
func runCLI(state *replState, stdinMode bool) {
	if stdinMode {
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("\n=== LayerMem Session Client (stdin mode) ===")
		printBanner(state)

		for scanner.Scan() {
			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}

			// Skip comments and shebang lines for stdin-based testing
			if strings.HasPrefix(input, "#") || strings.HasPrefix(input, "//") {
				continue
			}

			if input == cmdQuit {
				fmt.Println("Goodbye!")
				return
			}

			fmt.Print(prompt(state), input, "\n")
			processCommand(input, state, nil)
		}

		if err := scanner.Err(); err != nil {
			fmt.Printf("Error reading stdin: %v\n", err)
		}
		fmt.Println("Goodbye!")
		return
	}

	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetMultiLineMode(false)

	line.SetCompleter(func(line string) (c []string) {
		commands := []string{
			cmdHelp, cmdQuit, cmdPersona, cmdSession, cmdRemember, cmdImport,
			cmdExchange, cmdRetrieve, cmdSearch, cmdInsight, cmdReflect,
			cmdStats, cmdOptimize, cmdConfig,
		}
		for _, cmd := range commands {
			if strings.HasPrefix(cmd, line) {
				c = append(c, cmd)
			}
		}
		return
	})

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("\n=== LayerMem Session Client ===")
	printBanner(state)
	fmt.Println("Type !help for available commands.")

	for {
		input, err := line.Prompt(prompt(state))
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nGoodbye!")
				break
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if input == cmdQuit {
			fmt.Println("Goodbye!")
			break
		}

		if !processCommand(input, state, line) {
			break
		}
	}
}

func printBanner(state *replState) {
	fmt.Println("Knowledge Store:", state.cfg.Knowledge.Store)
	fmt.Println("Embedding Provider:", state.cfg.Embedding.Provider)
	if state.cfg.Session.Store != "" {
		fmt.Println("Session Store:", state.cfg.Session.Store)
	}
	fmt.Printf("Current Persona: %s\n", state.manager.PersonaID())
}

func prompt(state *replState) string {
	sess := state.session
	if sess == "" {
		sess = "no-session"
	} else if len(sess) > 8 {
		sess = sess[:8]
	}
	return fmt.Sprintf("layermem::%s@%s> ", state.manager.PersonaID(), sess)
}

// processCommand handles a single command and returns false if the CLI should exit
func processCommand(input string, state *replState, line *liner.State) bool {
	if !strings.HasPrefix(input, "!") {
		// Treat bare text as a retrieval query
		retrieve(state, input)
		return true
	}

	parts := strings.SplitN(input, " ", 2)
	cmd := parts[0]
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case cmdHelp:
		fmt.Println(helpText)

	case cmdQuit:
		// Already handled in main loop
		return false

	case cmdPersona:
		if arg == "" {
			fmt.Printf("Current persona: %s\n", state.manager.PersonaID())
			return true
		}
		mgr, err := state.runtime.Manager(persona.ID(arg))
		if err != nil {
			fmt.Printf("Error switching persona: %v\n", err)
			return true
		}
		state.manager = mgr
		state.session = ""
		fmt.Printf("Persona set to: %s\n", arg)

	case cmdSession:
		handleSession(state, arg, line)

	case cmdRemember:
		text := promptIfEmpty(line, arg, "Enter document text: ")
		if text == "" {
			fmt.Println("Document text required")
			return true
		}
		docID, chunkIDs, err := state.manager.Foundation().AddDocument(context.Background(), text, nil)
		if err != nil {
			fmt.Printf("Error adding document: %v\n", err)
		} else {
			fmt.Printf("Stored document %s (%d chunks)\n", docID, len(chunkIDs))
		}

	case cmdImport:
		path := promptIfEmpty(line, arg, "Enter file path: ")
		if path == "" {
			fmt.Println("File path required")
			return true
		}
		docID, chunkIDs, err := state.manager.Foundation().ImportDocument(context.Background(), path)
		if err != nil {
			fmt.Printf("Error importing document: %v\n", err)
		} else if docID == "" {
			fmt.Println("Nothing imported (file unreadable or empty)")
		} else {
			fmt.Printf("Imported %s as document %s (%d chunks)\n", path, docID, len(chunkIDs))
		}

	case cmdExchange:
		handleExchange(state, arg, line)

	case cmdRetrieve:
		query := promptIfEmpty(line, arg, "Enter retrieval query: ")
		if query == "" {
			fmt.Println("Retrieval query required")
			return true
		}
		retrieve(state, query)

	case cmdSearch:
		query := promptIfEmpty(line, arg, "Enter search query: ")
		if query == "" {
			fmt.Println("Search query required")
			return true
		}
		results, err := state.manager.Foundation().Search(context.Background(), query, knowledge.SearchOptions{})
		if err != nil {
			fmt.Printf("Error searching: %v\n", err)
			return true
		}
		if len(results) == 0 {
			fmt.Println("No matches.")
			return true
		}
		for i, res := range results {
			fmt.Printf("%d. [%.3f] %s\n", i+1, res.Similarity, res.Text)
		}

	case cmdInsight:
		handleInsight(state, arg, line)

	case cmdReflect:
		if state.session == "" {
			fmt.Println("No active session. Start one with !session new.")
			return true
		}
		reflection := state.manager.PrepareReflectionPrompt(state.session)
		if reflection == "" {
			fmt.Println("No interactions recorded in this session yet.")
		} else {
			fmt.Println(reflection)
		}

	case cmdStats:
		fmt.Print(state.runtime.Monitor().Snapshot().String())

	case cmdOptimize:
		report, err := state.runtime.OptimizeMemory(context.Background())
		if err != nil {
			fmt.Printf("Error optimizing memory: %v\n", err)
		} else {
			fmt.Printf("Compressed %d vectors, evicted %d collections\n",
				report.VectorsCompressed, report.CollectionsEvicted)
		}

	case cmdConfig:
		printConfig(state)

	default:
		fmt.Printf("Unknown command: %s\nType !help for available commands.\n", cmd)
	}

	return true
}

func handleSession(state *replState, arg string, line *liner.State) {
	ctx := context.Background()
	store := state.runtime.Sessions()

	switch arg {
	case "":
		if state.session == "" {
			fmt.Println("No active session. Start one with !session new.")
		} else {
			fmt.Printf("Current session: %s\n", state.session)
		}

	case "new":
		if store == nil {
			// Without a session store the ID only scopes the experience layer.
			state.session = uuid.New().String()
			fmt.Printf("Started session %s (not persisted)\n", state.session)
			return
		}
		clientName := promptIfEmpty(line, "", "Client name: ")
		if clientName == "" {
			clientName = "client"
		}
		sess, err := store.CreateSession(ctx, state.manager.PersonaID(), clientName, nil)
		if err != nil {
			fmt.Printf("Error creating session: %v\n", err)
			return
		}
		state.session = sess.ID
		fmt.Printf("Started session %s for %s\n", sess.ID, clientName)

	case "end":
		if state.session == "" {
			fmt.Println("No active session.")
			return
		}
		if store != nil {
			if err := store.EndSession(ctx, state.session); err != nil {
				fmt.Printf("Error ending session: %v\n", err)
				return
			}
		}
		fmt.Printf("Ended session %s\n", state.session)
		state.session = ""

	case "list":
		if store == nil {
			fmt.Println("Session persistence is disabled.")
			return
		}
		sessions, err := store.ListSessions(ctx, state.manager.PersonaID())
		if err != nil {
			fmt.Printf("Error listing sessions: %v\n", err)
			return
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions recorded for this persona.")
			return
		}
		for _, s := range sessions {
			status := "active"
			if !s.Active() {
				status = "ended"
			}
			fmt.Printf("%s  %s  %s  (%s)\n",
				s.ID, s.StartedAt.Format("2006-01-02 15:04"), s.ClientName, status)
		}

	default:
		// Treat anything else as a session ID to resume
		state.session = arg
		fmt.Printf("Switched to session %s\n", arg)
	}
}

func handleExchange(state *replState, arg string, line *liner.State) {
	if state.session == "" {
		fmt.Println("No active session. Start one with !session new.")
		return
	}

	clientText, personaText := "", ""
	if arg != "" {
		clientText, personaText, _ = strings.Cut(arg, " :: ")
		clientText = strings.TrimSpace(clientText)
		personaText = strings.TrimSpace(personaText)
	}
	if clientText == "" {
		clientText = promptIfEmpty(line, "", "Client said: ")
	}
	if personaText == "" {
		personaText = promptIfEmpty(line, "", "Persona replied: ")
	}
	if clientText == "" || personaText == "" {
		fmt.Println("Both sides of the exchange are required (use \"client :: reply\")")
		return
	}

	interaction, err := state.manager.RecordExchange(context.Background(), state.session, clientText, personaText, nil)
	if err != nil {
		fmt.Printf("Error recording exchange: %v\n", err)
		return
	}
	fmt.Printf("Recorded exchange %s\n", interaction.ID)

	if state.manager.ShouldReflect(state.session, 0) {
		fmt.Println("Reflection due for this session: type !reflect for the prompt.")
	}
}

func handleInsight(state *replState, arg string, line *liner.State) {
	content := promptIfEmpty(line, arg, "Insight text: ")
	if content == "" {
		fmt.Println("Insight text required")
		return
	}

	domain := "general"
	confidence := 0.7
	if line != nil {
		if d := promptIfEmpty(line, "", "Domain [general]: "); d != "" {
			domain = d
		}
		if c := promptIfEmpty(line, "", "Confidence [0.7]: "); c != "" {
			if parsed, err := strconv.ParseFloat(c, 64); err == nil {
				confidence = parsed
			}
		}
	}

	var sources map[string][]string
	if state.session != "" {
		sources = map[string][]string{"sessions": {state.session}}
	}
	insight, err := state.manager.GenerateInsight(context.Background(), content, domain, sources, confidence, nil)
	if err != nil {
		fmt.Printf("Error storing insight: %v\n", err)
		return
	}
	fmt.Printf("Stored insight %s (domain %s, confidence %.2f)\n", insight.ID, insight.Domain, insight.Confidence)
}

func retrieve(state *replState, query string) {
	lc, err := state.manager.RetrieveContext(context.Background(), query, state.session, 0)
	if err != nil {
		fmt.Printf("Error retrieving context: %v\n", err)
		return
	}
	if lc.Empty() {
		fmt.Println("No relevant context found.")
		return
	}
	fmt.Println(state.manager.FormatContext(lc))
}

// promptIfEmpty returns value, or prompts for one when it is empty and the
// CLI is interactive.
func promptIfEmpty(line *liner.State, value, promptText string) string {
	if value != "" || line == nil {
		return value
	}
	input, err := line.Prompt(promptText)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(input)
}

func printConfig(state *replState) {
	cfg := state.cfg
	fmt.Println("\nCurrent Configuration:")
	fmt.Println("======================")
	fmt.Printf("Data Directory: %s\n", cfg.DataDir)
	fmt.Printf("Embedding Provider: %s (%d dims)\n", cfg.Embedding.Provider, cfg.Embedding.Dimensions)
	if cfg.Embedding.Provider == "openai" {
		fmt.Printf("OpenAI Embedding Model: %s\n", cfg.Embedding.OpenAI.EmbeddingModel)
	}

	fmt.Printf("\nKnowledge Store: %s\n", cfg.Knowledge.Store)
	switch cfg.Knowledge.Store {
	case "chromem":
		fmt.Printf("Chromem Path: %s (compress: %v)\n", cfg.Knowledge.Chromem.Path, cfg.Knowledge.Chromem.Compress)
	case "pgvector":
		fmt.Printf("PgVector Table Prefix: %s\n", cfg.Knowledge.PgVector.TablePrefix)
	default:
		fmt.Printf("Max Loaded Collections: %d\n", cfg.Knowledge.Native.MaxLoadedCollections)
	}
	fmt.Printf("Chunk Size/Overlap: %d/%d\n", cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)

	fmt.Printf("\nCache Backend: %s\n", cfg.Cache.Backend)
	fmt.Printf("Session Store: %s\n", orNone(cfg.Session.Store))
	fmt.Printf("Scripting Enabled: %v\n", cfg.Scripting.Enabled)

	fmt.Printf("\nReflection Enabled: %v\n", cfg.Reflection.Enabled)
	fmt.Printf("Reflection Frequency: %d\n", cfg.Reflection.Frequency)

	fmt.Printf("\nLog Level: %s\n", cfg.Logging.Level)
	fmt.Printf("Persona: %s\n", state.manager.PersonaID())
	fmt.Printf("Session: %s\n", orNone(state.session))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
