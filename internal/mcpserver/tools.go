package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the duel MCP server. Every tool is read-only.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolListArenas = mcp.NewTool("list_arenas",
	mcp.WithDescription(
		"List the duel arenas configured on the server, grouped by arena group. "+
			"Shows whether each arena has both spawn points set and whether a duel is using it right now."),
	mcp.WithString("group",
		mcp.Description("Only show arenas in this group (e.g. 'classic')")),
)

var ToolGetPlayerStats = mcp.NewTool("get_player_stats",
	mcp.WithDescription(
		"Get a player's duel record: wins, losses, total duels and win rate."),
	mcp.WithString("player",
		mcp.Required(),
		mcp.Description("The player's name or UUID")),
)

var ToolTopPlayers = mcp.NewTool("top_players",
	mcp.WithDescription(
		"Show the duel leaderboard, ordered by wins, then win rate."),
	mcp.WithNumber("limit",
		mcp.Description("How many players to show (default 10, max 100)")),
)

var ToolListActiveDuels = mcp.NewTool("list_active_duels",
	mcp.WithDescription(
		"List every duel currently in progress with its state, players and arena. "+
			"Requires the server's admin secret."),
)

var ToolServiceStatus = mcp.NewTool("service_status",
	mcp.WithDescription(
		"Show the duel service's live counters: tick, active and closing duels, arenas in use, "+
			"open betting books and websocket clients. Requires the server's admin secret."),
)
