// Package mssqlmcp provides safe, controlled Microsoft SQL Server access
// for AI agents through the Model Context Protocol (MCP).
//
// The gateway mediates every operation through a single pipeline: a
// lazily-renewed shared connection, a safety-policy check, and a handler
// invocation normalized into a uniform response envelope. It exposes a
// catalogue of named operations (connect, list_databases, list_tables,
// describe_table, run_query, read_data, insert_data, update_data,
// create_table, create_index, drop_table).
//
// Authentication is either static SQL credentials (SQL_USERNAME and
// SQL_PASSWORD) or Microsoft Entra access tokens acquired through the
// default credential chain. Token credentials carry a server-declared
// expiry; the pool refreshes them proactively, 120 seconds before expiry,
// so statements never fail mid-flight on an expired token.
//
// In read-only mode (READONLY=true) write and schema-change operations are
// neither advertised nor executable, and raw queries pass a lexical gate
// that rejects mutating statement types. The gate is a defense-in-depth
// heuristic; a least-privilege database role remains the primary control.
//
// # Library Usage
//
//	provider, _ := mssqlmcp.NewCredentialProvider(config)
//	pool := mssqlmcp.NewPool(config, provider, logger)
//	defer pool.Close()
//
//	d, err := mssqlmcp.NewDispatcher(config, pool, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Use directly
//	resp := d.Dispatch(ctx, mssqlmcp.Request{
//		Operation: "read_data",
//		Args:      mssqlmcp.Args{"table": "Customers", "limit": 10},
//	})
//
//	// Or register as MCP tools
//	mssqlmcp.RegisterMCPTools(mcpServer, d)
package mssqlmcp
