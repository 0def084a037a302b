package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	cl "nexus/internal/cli"
	"nexus/internal/game"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("220")).
			Padding(0, 2)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(22)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptPassword reads without echo on a terminal and falls back to a plain
// line read when stdin is piped.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func catalogCategories(catalog map[string][]string) []string {
	out := make([]string, 0, len(catalog))
	for c := range catalog {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func renderKingdom(k game.KingdomView) {
	rows := []string{titleStyle.Render("The Throne of NEXUS"), ""}
	king := k.KingName
	if k.KingID == nil {
		king = warn.Sprint(king)
	}
	rows = append(rows,
		row("Ruler", king),
		row("Crowned", epochText(k.KingCrownedAt)),
		row("Next election", epochText(k.NextElectionAt)),
		row("Free doctrine changes", strconv.Itoa(k.KingFreeChangesRemaining)),
		row("Royal treasury", coins(k.RoyalTreasuryBalance)+" coins"),
		"",
		titleStyle.Render("Doctrines"),
	)
	if len(k.ActiveDoctrines) == 0 {
		rows = append(rows, neutral.Sprint("none active"))
	}
	for _, d := range k.ActiveDoctrines {
		rows = append(rows, row(string(d.Category), fmt.Sprintf("%s (%s)", d.DisplayName, d.Modifier)))
	}
	fmt.Println(panelStyle.Render(strings.Join(rows, "\n")))
	if k.ElectionHeld {
		accent.Println("An election was just held.")
	}
}

func renderDoctrineResult(res game.DoctrineResult, category, doctrine string) {
	how := fmt.Sprintf("paid from the treasury, %s coins left", coins(res.RoyalTreasuryBalance))
	if res.UsedFreeChange {
		how = fmt.Sprintf("free change used, %d left", res.KingFreeChangesRemaining)
	}
	printSuccess(fmt.Sprintf("The %s doctrine is now %s (%s).", strings.ToLower(category), strings.ToLower(doctrine), how))
}

func renderRoster(r cl.Roster) {
	accent.Printf("\n== CASTLE (level %d) ==\n", r.CastleLevel)
	fmt.Printf("Pocket:    %s coins, %s\n", coins(r.Pocket.RoyalCoins), supplies(r.Pocket.Resources))
	fmt.Printf("Treasury:  %s coins, %s\n", coins(r.Treasury.RoyalCoins), supplies(r.Treasury.Resources))
	fmt.Println()
	if len(r.Knights) == 0 {
		printInfo("No knights yet.")
		return
	}
	fmt.Printf("%-12s %-20s %6s %6s %5s %8s\n", "ID", "NAME", "VALOR", "WIT", "TIER", "POWER")
	for _, k := range r.Knights {
		fmt.Printf("%-12s %-20s %6d %6d %5d %8s\n", truncate(k.ID, 12), truncate(k.Name, 20), k.Valor, k.Wit, k.Tier, coins(k.Power))
	}
	fmt.Printf("\nRaid parties hold at most %d knights.\n", r.MaxParty)
}

func renderTargets(targets []game.RaidTarget) {
	accent.Println("\n== RAID TARGETS ==")
	if len(targets) == 0 {
		printInfo("No castles within range.")
		return
	}
	fmt.Printf("%-12s %-20s %5s %8s %8s %10s %10s  %s\n", "ID", "NAME", "LVL", "RATING", "DEFENSE", "COINS", "SUPPLIES", "STATUS")
	for _, t := range targets {
		status := success.Sprint("open")
		if t.ImmuneUntil > 0 {
			status = warn.Sprintf("protected %s", humanize.Time(time.UnixMilli(t.ImmuneUntil)))
		}
		fmt.Printf("%-12s %-20s %5d %8d %8s %10s %10s  %s\n",
			truncate(t.UserID, 12), truncate(t.DisplayName, 20), t.CastleLevel, t.DefenseRating,
			coins(t.DefensePower), coins(t.RoyalCoins), coins(t.ResourceTotal), status)
	}
}

func renderRaidResult(res game.RaidResult) {
	if res.Success {
		printSuccess("Victory! The castle gates fell.")
	} else {
		printError("Repelled. Your knights retreat empty-handed.")
	}
	fmt.Printf("Attack:  %s (base %s)\n", coins(res.AttackPower), coins(res.BaseAttackPower))
	fmt.Printf("Defense: %s (base %s)\n", coins(res.DefensePower), coins(res.BaseDefensePower))
	if res.Success {
		fmt.Printf("Loot:    %s coins, %s\n", coins(res.CoinsStolen), supplies(res.ResourcesStolen))
	}
	neutral.Printf("Raid %s\n", res.RaidID)
}

func renderHistory(history []game.RaidHistory, me string) {
	accent.Println("\n== RAID HISTORY ==")
	if len(history) == 0 {
		printInfo("No raids yet.")
		return
	}
	for _, h := range history {
		when := humanize.Time(time.UnixMilli(h.CreatedAtMs))
		var line string
		won := h.Success
		if h.DefenderID == me {
			line = fmt.Sprintf("%s raided you", h.AttackerName)
			won = !h.Success
		} else {
			line = fmt.Sprintf("you raided %s", h.DefenderName)
		}
		outcome := danger.Sprint("lost")
		if won {
			outcome = success.Sprint("won")
		}
		loot := ""
		if h.Success {
			loot = fmt.Sprintf(", %s coins taken", coins(h.CoinsStolen))
		}
		fmt.Printf("%-14s %-40s %s (%s vs %s%s)\n", when, line, outcome, coins(h.AttackPower), coins(h.DefensePower), loot)
	}
}

func renderRaidStats(st game.RaidStatsView) {
	rows := []string{
		titleStyle.Render("Raid record"),
		"",
		row("Attacks", fmt.Sprintf("%d won of %d", st.SuccessfulAttacks, st.TotalAttacks)),
		row("Defenses", fmt.Sprintf("%d held of %d", st.SuccessfulDefenses, st.TotalDefenses)),
		row("Attack rating", strconv.Itoa(st.AttackRating)),
		row("Defense rating", strconv.Itoa(st.DefenseRating)),
		row("Next raid", readyText(st.AttackReadyAt)),
		row("Protected until", readyText(st.ImmuneUntil)),
	}
	fmt.Println(panelStyle.Render(strings.Join(rows, "\n")))
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func epochText(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	t := time.UnixMilli(ms)
	return fmt.Sprintf("%s (%s)", t.Local().Format("2006-01-02 15:04"), humanize.Time(t))
}

func readyText(ms int64) string {
	if ms <= 0 {
		return success.Sprint("now")
	}
	return warn.Sprint(humanize.Time(time.UnixMilli(ms)))
}

func coins(v int64) string {
	return humanize.Comma(v)
}

func supplies(r game.Resources) string {
	return fmt.Sprintf("%s bananas, %s peanuts, %s bread, %s sandwiches",
		humanize.Comma(r.Bananas), humanize.Comma(r.Peanuts), humanize.Comma(r.Bread), humanize.Comma(r.Sandwiches))
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
