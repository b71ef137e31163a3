package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	cl "guildbank/internal/cli"
	"guildbank/internal/economy"
	"guildbank/internal/syncq"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")).Padding(0, 1)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8")).Padding(0, 1)
)

var statusColors = map[economy.PoolStatus]lipgloss.Color{
	economy.PoolCritical:     lipgloss.Color("9"),
	economy.PoolBuilding:     lipgloss.Color("11"),
	economy.PoolNearComplete: lipgloss.Color("10"),
	economy.PoolComplete:     lipgloss.Color("12"),
}

func init() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
}

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

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

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func heading(s string) {
	fmt.Println(titleStyle.Render(s))
}

func renderMe(me cl.Me) {
	lines := []string{
		fmt.Sprintf("User:       %d", me.UserID),
		fmt.Sprintf("Reputation: %d", me.Points),
	}
	if me.Admin {
		lines = append(lines, "Admin:      yes")
	}
	if me.Gang != nil {
		role := "member"
		switch {
		case me.Gang.Leader:
			role = "leader"
		case me.Gang.Leadership:
			role = "leadership"
		}
		lines = append(lines,
			fmt.Sprintf("Gang:       %s (%s)", me.Gang.Gang, role),
			fmt.Sprintf("Control:    %d", me.Gang.Control),
		)
	} else {
		lines = append(lines, "Gang:       none")
	}
	fmt.Println(boxStyle.Render(strings.Join(lines, "\n")))
}

func renderCatalog(view economy.CatalogView) {
	heading(fmt.Sprintf("%s items", strings.ToUpper(string(view.Scope))))
	if len(view.Items) == 0 {
		printInfo("No items found.")
		return
	}
	nameWidth := clamp(termWidth()-50, 12, 32)
	fmt.Printf("%-*s %8s %8s  %-20s\n", nameWidth, "NAME", "COST", "VALUE", "BENEFIT")
	for _, it := range view.Items {
		fmt.Printf("%-*s %8d %8d  %-20s\n", nameWidth, truncate(it.Name, nameWidth), it.Cost, it.Value, it.Benefit)
	}
	fmt.Println()
}

func renderItem(it economy.ItemView) {
	lines := []string{
		accent.Sprint(it.Name),
		fmt.Sprintf("Cost:    %d", it.Cost),
		fmt.Sprintf("Value:   %d", it.Value),
		fmt.Sprintf("Benefit: %s", it.Benefit),
	}
	if it.Owned > 0 {
		lines = append(lines, fmt.Sprintf("Owned:   %d", it.Owned))
	}
	if it.Description != "" {
		lines = append(lines, "", it.Description)
	}
	fmt.Println(boxStyle.Width(clamp(termWidth()-4, 30, 72)).Render(strings.Join(lines, "\n")))
}

func renderInventory(view economy.InventoryView) {
	unit := "rep"
	if view.Scope == economy.ScopeGang {
		unit = "control"
	}
	heading(fmt.Sprintf("Inventory of %s (%d %s)", view.Owner, view.Balance, unit))
	if len(view.Items) == 0 {
		printInfo("Nothing here yet.")
		return
	}
	fmt.Printf("%-28s %6s %8s  %-20s\n", "ITEM", "QTY", "VALUE", "BENEFIT")
	for _, h := range view.Items {
		fmt.Printf("%-28s %6d %8d  %-20s\n", truncate(h.Name, 28), h.Quantity, h.Value, h.Benefit)
	}
	fmt.Println()
}

func renderSuggestions(out []economy.Suggestion) {
	if len(out) == 0 {
		printInfo("No matches.")
		return
	}
	for _, s := range out {
		fmt.Println(s.Label)
	}
}

func renderUse(out economy.UseResult) {
	switch {
	case out.Territory != nil:
		printSuccess(fmt.Sprintf("Used %s: +%d %s on %s (attack %d, defense %d).",
			out.Item, out.Gained, out.Stat, territoryLabel(out.Territory), out.Territory.Attack, out.Territory.Defense))
	default:
		printSuccess(fmt.Sprintf("Used %s: +%d %s. You now have %d rep.", out.Item, out.Gained, out.Stat, out.Points))
	}
	if out.Consumed {
		printInfo(fmt.Sprintf("%d left.", out.Remaining))
	}
}

func territoryLabel(t *economy.TerritoryView) string {
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("territory %d", t.ID)
}

func renderPool(p economy.PoolState) {
	badge := lipgloss.NewStyle().Bold(true).Foreground(statusColors[p.Status]).Render(strings.ToUpper(string(p.Status)))
	lines := []string{
		accent.Sprint(p.Name) + "  " + badge,
		fmt.Sprintf("Level %d: %d / %d (base %d)", p.Level, p.Current, p.Cap, p.Start),
		progressBar(p.Current, p.Cap, clamp(termWidth()-20, 10, 40)),
	}
	if p.Reward != "" {
		lines = append(lines, "Reward: "+p.Reward)
	}
	if len(p.RequiredRoles) > 0 {
		roles := make([]string, 0, len(p.RequiredRoles))
		for _, r := range p.RequiredRoles {
			roles = append(roles, fmt.Sprint(r))
		}
		lines = append(lines, "Roles: "+strings.Join(roles, ", "))
	}
	fmt.Println(boxStyle.Render(strings.Join(lines, "\n")))
}

func renderPools(pools []economy.PoolState) {
	heading("Pools")
	if len(pools) == 0 {
		printInfo("No pools found.")
		return
	}
	fmt.Printf("%-32s %6s %10s %10s  %-14s\n", "NAME", "LEVEL", "CURRENT", "CAP", "STATUS")
	for _, p := range pools {
		fmt.Printf("%-32s %6d %10d %10d  %-14s\n", p.Name, p.Level, p.Current, p.Cap, p.Status)
	}
	fmt.Println()
}

func renderQueue(queue []syncq.Command) {
	heading("Retry queue")
	if len(queue) == 0 {
		printInfo("Nothing queued.")
		return
	}
	fmt.Printf("%-6s %-40s %-20s  %s\n", "METHOD", "PATH", "QUEUED", "LAST ERROR")
	for _, c := range queue {
		fmt.Printf("%-6s %-40s %-20s  %s\n", c.Method, truncate(c.Path, 40), c.QueuedAt.Local().Format("2006-01-02 15:04:05"), truncate(c.LastError, 48))
	}
	fmt.Println()
}

func progressBar(current, capacity int64, width int) string {
	filled := 0
	if capacity > 0 {
		filled = int(current * int64(width) / capacity)
	}
	filled = clamp(filled, 0, width)
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
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
