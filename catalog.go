package mssqlmcp

// defaultOperations is the full tool catalogue. Registered once at
// construction; the dispatcher treats the registry as immutable.
func (d *Dispatcher) defaultOperations() []Operation {
	return []Operation{
		{
			Spec: OperationSpec{
				Name: "connect", Kind: Read, AllowedWhenReadOnly: true,
				Description: "Verify connectivity and return server version and database name.",
			},
			Handler: d.handleConnect,
		},
		{
			Spec: OperationSpec{
				Name: "list_databases", Kind: Read, AllowedWhenReadOnly: true,
				Description: "List databases visible on the server.",
			},
			Handler: d.handleListDatabases,
		},
		{
			Spec: OperationSpec{
				Name: "list_tables", Kind: Read, AllowedWhenReadOnly: true,
				Description: "List tables and views in the current database.",
			},
			Handler: d.handleListTables,
		},
		{
			Spec: OperationSpec{
				Name: "describe_table", Kind: Read, AllowedWhenReadOnly: true,
				Description: "Describe a table's columns, primary key, and foreign keys.",
			},
			Handler: d.handleDescribeTable,
		},
		{
			Spec: OperationSpec{
				Name: "run_query", Kind: RawQuery, AllowedWhenReadOnly: true,
				Description: "Execute a raw T-SQL statement. In read-only mode only read statements pass the lexical gate.",
			},
			Handler: d.handleRunQuery,
		},
		{
			Spec: OperationSpec{
				Name: "read_data", Kind: Read, AllowedWhenReadOnly: true,
				Description: "Read rows from a table with optional columns, filter, ordering, and row cap.",
			},
			Handler: d.handleReadData,
		},
		{
			Spec: OperationSpec{
				Name: "insert_data", Kind: Write, AllowedWhenReadOnly: false,
				Description: "Insert a single row of column/value pairs into a table.",
			},
			Handler: d.handleInsertData,
		},
		{
			Spec: OperationSpec{
				Name: "update_data", Kind: Write, RequiresWhere: true, AllowedWhenReadOnly: false,
				Description: "Update rows matching a mandatory WHERE predicate.",
			},
			Handler: d.handleUpdateData,
		},
		{
			Spec: OperationSpec{
				Name: "create_table", Kind: SchemaChange, AllowedWhenReadOnly: false,
				Description: "Create a table from a list of column definitions.",
			},
			Handler: d.handleCreateTable,
		},
		{
			Spec: OperationSpec{
				Name: "create_index", Kind: SchemaChange, AllowedWhenReadOnly: false,
				Description: "Create an index on a table.",
			},
			Handler: d.handleCreateIndex,
		},
		{
			Spec: OperationSpec{
				Name: "drop_table", Kind: SchemaChange, AllowedWhenReadOnly: false,
				Description: "Drop a table.",
			},
			Handler: d.handleDropTable,
		},
	}
}
