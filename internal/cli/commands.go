// Package cli implements the interactive operator console: map display,
// scoreboard, turn control and save management from the terminal the
// server runs in.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/warserver-project/warserver/internal/events"
	"github.com/warserver-project/warserver/internal/game"
	"github.com/warserver-project/warserver/internal/store"
	"github.com/warserver-project/warserver/internal/turns"
)

// CLI provides the interactive operator console.
type CLI struct {
	state     *game.State
	scheduler *turns.Scheduler
	store     *store.Store
	eventBus  *events.EventBus
}

// NewCLI creates a console bound to the running war.
func NewCLI(state *game.State, scheduler *turns.Scheduler, st *store.Store, eventBus *events.EventBus) *CLI {
	return &CLI{
		state:     state,
		scheduler: scheduler,
		store:     st,
		eventBus:  eventBus,
	}
}

// Start begins the interactive loop. It returns when the context is
// cancelled or the operator quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nWar console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		fmt.Print("war> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			parts := strings.Fields(line)
			cmd := strings.ToLower(parts[0])
			args := parts[1:]
			if cmd == "quit" || cmd == "exit" || cmd == "q" {
				fmt.Println("Shutting down...")
				c.eventBus.Emit(ctx, events.Event{
					Type:   events.EventShutdown,
					Source: "cli",
				})
				return
			}
			if err := c.execute(cmd, args); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		}
	}
}

// execute processes a single console command.
func (c *CLI) execute(cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "map", "m":
		c.printMap()
	case "sector":
		return c.cmdSector(args)
	case "ships":
		c.printShips()
	case "score":
		c.printScore()
	case "turn", "t":
		c.printTurn()
	case "end-turn", "endturn":
		c.scheduler.EndTurn()
		c.printTurn()
	case "time":
		return c.cmdTime(args)
	case "base":
		return c.cmdBase(args)
	case "beachheads":
		c.printBeachheads()
	case "fog-reset":
		c.state.ResetFog()
		fmt.Println("Fog reset")
	case "saves":
		return c.printSaves()
	case "save":
		return c.cmdSave(args)
	case "load":
		return c.cmdLoad(args)
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Println(`
  map                 Show the sector map
  sector <x> <y>      Show one sector in detail
  ships               Show connected ships and their battles
  score               Show the scoreboard
  turn                Show turn number and remaining time
  end-turn            Force the current turn to end now
  time <seconds>      Add or remove time from the clock
  base <x> <y> <kind> Place a base (rear, forward, fire)
  beachheads          List invasion beachheads
  fog-reset           Re-fog the whole map
  saves               List saved games
  save <name>         Save the war
  load <name>         Load a saved war
  quit                Shut the server down
	`)
}

// cellLabel renders one map cell: enemy count, base counts and markers
// for hidden/blocked/beachhead sectors.
func cellLabel(sec game.Sector) string {
	if sec.Hidden {
		return "####"
	}
	if sec.Blocked {
		return "xxxx"
	}
	label := fmt.Sprintf("%d", sec.Enemies)
	if bases := sec.RearBases + sec.ForwardBases + sec.FireBases; bases > 0 {
		label += fmt.Sprintf("/b%d", bases)
	}
	if sec.Beachhead {
		label += "!"
	}
	if sec.Fog {
		label += "~"
	}
	return label
}

// printMap renders the full 8x8 grid, rows north to south.
func (c *CLI) printMap() {
	grid := c.state.GetMap(game.Viewer{})

	tw := tablewriter.NewWriter(os.Stdout)
	header := []string{""}
	for x := 0; x < game.GridSize; x++ {
		header = append(header, string(rune('A'+x)))
	}
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for y := 0; y < game.GridSize; y++ {
		row := []string{strconv.Itoa(y + 1)}
		for x := 0; x < game.GridSize; x++ {
			row = append(row, cellLabel(grid[x][y]))
		}
		tw.Append(row)
	}
	tw.Render()
	fmt.Println("  enemies/bN bases, ! beachhead, ~ fog, #### hidden, xxxx blocked")
}

func (c *CLI) cmdSector(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: sector <x> <y>")
	}
	x, errX := strconv.Atoi(args[0])
	y, errY := strconv.Atoi(args[1])
	if errX != nil || errY != nil {
		return fmt.Errorf("coordinates must be integers")
	}
	sec, err := c.state.GetSector(x, y, game.Viewer{})
	if err != nil {
		return err
	}
	fmt.Printf("\n  Sector %s (%d,%d)\n", game.Coord{X: x, Y: y}.Label(), x, y)
	fmt.Printf("  Name:      %s\n", sec.Name)
	fmt.Printf("  Terrain:   %s\n", sec.Terrain)
	fmt.Printf("  Enemies:   %d\n", sec.Enemies)
	fmt.Printf("  Bases:     rear %d, forward %d, fire %d\n", sec.RearBases, sec.ForwardBases, sec.FireBases)
	fmt.Printf("  Hidden:    %v   Blocked: %v   Fog: %v\n", sec.Hidden, sec.Blocked, sec.Fog)
	fmt.Printf("  Beachhead: %v\n\n", sec.Beachhead)
	return nil
}

func (c *CLI) printShips() {
	ships := c.state.GetShips()
	if len(ships) == 0 {
		fmt.Println("No ships connected")
		return
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Client", "Ship", "Sector", "Battle", "Enemies"})
	tw.SetBorder(true)

	for id, ship := range ships {
		sector := "-"
		battle := "-"
		if ship.InCombat() {
			sector = game.Coord{X: ship.X, Y: ship.Y}.Label()
			battle = fmt.Sprintf("%04x", ship.BattleID)
		}
		tw.Append([]string{
			string(id),
			ship.Name,
			sector,
			battle,
			strconv.Itoa(ship.Enemies),
		})
	}
	tw.Render()
}

func (c *CLI) printScore() {
	kills, clears := c.state.Scoreboard()
	if len(kills) == 0 && len(clears) == 0 {
		fmt.Println("No scores yet")
		return
	}

	names := make(map[string]bool, len(kills)+len(clears))
	for name := range kills {
		names[name] = true
	}
	for name := range clears {
		names[name] = true
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Ship", "Kills", "Clears"})
	tw.SetBorder(true)
	for name := range names {
		tw.Append([]string{name, strconv.Itoa(kills[name]), strconv.Itoa(clears[name])})
	}
	tw.Render()
}

func (c *CLI) printTurn() {
	status := c.state.TurnStatus()
	phase := "turn"
	if status.Interlude {
		phase = "interlude"
	}
	fmt.Printf("Turn %d of %d (%s), %.0f seconds remaining, %d enemies on the map\n",
		status.Number, status.MaxTurns, phase, status.Remaining, c.state.TotalEnemies())
}

func (c *CLI) cmdTime(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: time <seconds>")
	}
	seconds, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid seconds: %s", args[0])
	}
	c.scheduler.AdjustTime(seconds)
	c.printTurn()
	return nil
}

func (c *CLI) cmdBase(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: base <x> <y> <rear|forward|fire>")
	}
	x, errX := strconv.Atoi(args[0])
	y, errY := strconv.Atoi(args[1])
	if errX != nil || errY != nil {
		return fmt.Errorf("coordinates must be integers")
	}
	var kind game.BaseKind
	switch args[2] {
	case "rear":
		kind = game.BaseRear
	case "forward":
		kind = game.BaseForward
	case "fire":
		kind = game.BaseFire
	default:
		return fmt.Errorf("kind must be rear, forward or fire")
	}
	placed, err := c.state.PlaceBase(x, y, kind)
	if err != nil {
		return err
	}
	if !placed {
		return fmt.Errorf("not enough strategy points (%d available, %d needed)",
			c.state.StrategyPoints(), kind.Cost())
	}
	fmt.Printf("Base placed, %d strategy points remaining\n", c.state.StrategyPoints())
	return nil
}

func (c *CLI) printBeachheads() {
	heads := c.state.Beachheads()
	if len(heads) == 0 {
		fmt.Println("No beachheads")
		return
	}
	for _, head := range heads {
		fmt.Printf("  %s (%d,%d)\n", head.Label(), head.X, head.Y)
	}
}

func (c *CLI) printSaves() error {
	saves, err := c.store.ListSaves()
	if err != nil {
		return err
	}
	if len(saves) == 0 {
		fmt.Println("No saved games")
		return nil
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Name", "Turn", "Auto", "Created"})
	tw.SetBorder(true)
	for _, save := range saves {
		auto := ""
		if save.Autosave {
			auto = "yes"
		}
		tw.Append([]string{
			save.Filename,
			strconv.Itoa(save.TurnNumber),
			auto,
			save.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdSave(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: save <name>")
	}
	name := args[0]
	if err := c.store.SaveGame(name, c.state.Snapshot(), false); err != nil {
		return err
	}
	fmt.Printf("Saved as %s\n", name)
	return nil
}

func (c *CLI) cmdLoad(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: load <name>")
	}
	name := args[0]
	snap, err := c.store.LoadGame(name)
	if err != nil {
		return err
	}
	c.scheduler.Stop()
	c.state.Restore(snap)
	c.scheduler.Resume(snap.RemainingSeconds)
	log.Info().Str("save", name).Int("turn", snap.Turn.Number).Msg("game restored from console")
	fmt.Printf("Loaded %s at turn %d\n", name, snap.Turn.Number)
	return nil
}
