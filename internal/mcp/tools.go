package mcp

import "github.com/mark3labs/mcp-go/mcp"

// askTool defines the ask MCP tool.
var askTool = mcp.NewTool("ask",
	mcp.WithDescription("Ask the building assistant a question or give it a command, e.g. \"show critical alarms\" or \"set temperature in conference room b to 22\". Follow-up questions share context per user."),
	mcp.WithString("text",
		mcp.Required(),
		mcp.Description("The question or command in natural language"),
	),
	mcp.WithString("user_id",
		mcp.Description("Conversation owner; turns from the same user share follow-up context (default \"mcp\")"),
	),
	mcp.WithString("device",
		mcp.Description("Optional device ID or name the question is about"),
	),
)

// diagnoseDeviceTool defines the diagnose_device MCP tool.
var diagnoseDeviceTool = mcp.NewTool("diagnose_device",
	mcp.WithDescription("Run a health diagnosis on one device: connectivity, battery, recent telemetry and a suggested healing plan."),
	mcp.WithString("device",
		mcp.Required(),
		mcp.Description("Device ID or name, e.g. \"Basement Pump 3\""),
	),
)

// listDevicesTool defines the list_devices MCP tool.
var listDevicesTool = mcp.NewTool("list_devices",
	mcp.WithDescription("List devices known to the building platform with their online status."),
	mcp.WithString("name",
		mcp.Description("Case-insensitive glob on the device name, e.g. \"*thermostat*\""),
	),
	mcp.WithString("type",
		mcp.Description("Exact device type, e.g. \"Chiller\""),
	),
)

// searchFaultsTool defines the search_faults MCP tool.
var searchFaultsTool = mcp.NewTool("search_faults",
	mcp.WithDescription("Search the HVAC fault knowledge base for likely causes and suggested fixes."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Symptom or fault description"),
	),
	mcp.WithString("equipment",
		mcp.Description("Restrict results to one equipment class"),
		mcp.Enum("Chiller", "Pump", "TFA", "AQI Sensor"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of results to return (default 3)"),
	),
)
