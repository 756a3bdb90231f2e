package schema

// Default returns the full descriptor registry for the pipeline data
// model. Declared once at program start; internal/schema never
// discovers this via reflection.
func Default() Registry {
	return Registry{
		Enums: []EnumDescriptor{
			{Name: "task_status", Values: []string{"Waiting", "Scheduled", "Running", "Complete", "Failed"}},
			{Name: "operation_state", Values: []string{"Ready", "Active"}},
			{Name: "loader_type", Values: []string{"Flat", "Excel", "MDB", "DBF"}},
			{Name: "task_class", Values: []string{"User", "System"}},
			{Name: "collect_type", Values: []string{"Full", "Incremental", "Append"}},
		},
		Tables: []TableDescriptor{
			{
				Name: "roles",
				Definition: `
					name text PRIMARY KEY,
					description text NOT NULL
				`,
			},
			{
				Name: "users",
				Definition: `
					user_id bigserial PRIMARY KEY,
					username text NOT NULL UNIQUE,
					password_hash text NOT NULL,
					full_name text NOT NULL,
					deactivated boolean NOT NULL DEFAULT false
				`,
			},
			{
				Name:      "user_roles",
				DependsOn: []string{"users", "roles"},
				Definition: `
					user_id bigint NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
					role_name text NOT NULL REFERENCES roles(name),
					PRIMARY KEY (user_id, role_name)
				`,
			},
			{
				Name: "workflow_operations",
				Definition: `
					code text PRIMARY KEY,
					href text NOT NULL,
					role text NOT NULL,
					rank integer NOT NULL
				`,
			},
			{
				Name: "actions",
				Definition: `
					role text NOT NULL,
					state operation_state NOT NULL,
					href text NOT NULL,
					label text NOT NULL,
					PRIMARY KEY (role, state, href)
				`,
			},
			{
				Name: "pipeline_runs",
				Definition: `
					run_id bigserial PRIMARY KEY,
					data_source_id bigint NOT NULL,
					record_date date NOT NULL,
					workflow_operation text NOT NULL,
					operation_state operation_state NOT NULL DEFAULT 'Ready',
					collection_user text,
					load_user text,
					check_user text,
					qa_user text
				`,
			},
			{
				Name:      "pipeline_run_tasks",
				DependsOn: []string{"pipeline_runs"},
				Definition: `
					pr_task_id bigserial PRIMARY KEY,
					run_id bigint NOT NULL REFERENCES pipeline_runs(run_id) ON DELETE CASCADE,
					task_id text NOT NULL,
					order_index integer NOT NULL,
					task_running boolean NOT NULL DEFAULT false,
					task_complete boolean NOT NULL DEFAULT false,
					task_start timestamptz,
					task_completed timestamptz,
					task_status task_status NOT NULL DEFAULT 'Waiting',
					task_message text,
					parent_id bigint REFERENCES pipeline_run_tasks(pr_task_id) ON DELETE CASCADE,
					CONSTRAINT task_start_set_iff_running CHECK (
						(task_status IN ('Waiting', 'Scheduled') AND task_start IS NULL)
						OR (task_status IN ('Running', 'Complete', 'Failed') AND task_start IS NOT NULL)
					),
					CONSTRAINT task_completed_set_iff_terminal CHECK (
						(task_status IN ('Complete', 'Failed')) = (task_completed IS NOT NULL)
					)
				`,
			},
			{
				Name:      "source_tables",
				DependsOn: []string{"pipeline_runs"},
				Definition: `
					st_oid bigserial PRIMARY KEY,
					run_id bigint NOT NULL REFERENCES pipeline_runs(run_id) ON DELETE CASCADE,
					table_name text NOT NULL,
					file_id text NOT NULL,
					file_name text NOT NULL,
					loader_type loader_type NOT NULL,
					sub_table text,
					delimiter text,
					qualified boolean NOT NULL DEFAULT false,
					encoding text,
					collect_type collect_type,
					analyze boolean NOT NULL DEFAULT false,
					load boolean NOT NULL DEFAULT false,
					record_count bigint,
					url text,
					comments text,
					UNIQUE (run_id, file_id),
					UNIQUE (run_id, table_name)
				`,
			},
			{
				Name:      "source_table_columns",
				DependsOn: []string{"source_tables"},
				Definition: `
					st_oid bigint NOT NULL REFERENCES source_tables(st_oid) ON DELETE CASCADE,
					name text NOT NULL,
					type text NOT NULL,
					max_length integer NOT NULL,
					min_length integer NOT NULL,
					label text,
					column_index integer NOT NULL,
					PRIMARY KEY (st_oid, name)
				`,
			},
			{
				Name:      "system_jobs",
				DependsOn: []string{"pipeline_run_tasks", "pipeline_runs"},
				Definition: `
					job_id bigserial PRIMARY KEY,
					pr_task_id bigint NOT NULL REFERENCES pipeline_run_tasks(pr_task_id) ON DELETE CASCADE,
					run_id bigint NOT NULL REFERENCES pipeline_runs(run_id) ON DELETE CASCADE,
					task_id text NOT NULL,
					task_class task_class NOT NULL,
					run_next boolean NOT NULL DEFAULT false,
					scheduled_at timestamptz NOT NULL DEFAULT now(),
					attempt_count integer NOT NULL DEFAULT 0
				`,
			},
			{
				Name:      "job_leases",
				DependsOn: []string{"system_jobs", "pipeline_run_tasks"},
				Definition: `
					job_id bigint PRIMARY KEY REFERENCES system_jobs(job_id) ON DELETE CASCADE,
					pr_task_id bigint NOT NULL REFERENCES pipeline_run_tasks(pr_task_id) ON DELETE CASCADE,
					holder text NOT NULL,
					lease_expires timestamptz NOT NULL
				`,
			},
		},
		Functions: []FunctionDescriptor{
			{
				Name: "notify_pipeline_run_task_changed",
				Body: `
					CREATE OR REPLACE FUNCTION notify_pipeline_run_task_changed() RETURNS trigger AS $$
					BEGIN
						PERFORM pg_notify('pipeline_run_task_changed', NEW.run_id::text);
						RETURN NEW;
					END;
					$$ LANGUAGE plpgsql;
				`,
			},
		},
		Triggers: []TriggerDescriptor{
			{
				Name:  "pipeline_run_tasks_notify",
				Table: "pipeline_run_tasks",
				Body: `
					CREATE TRIGGER pipeline_run_tasks_notify
					AFTER UPDATE OF task_status ON pipeline_run_tasks
					FOR EACH ROW EXECUTE FUNCTION notify_pipeline_run_task_changed();
				`,
			},
		},
		Seeds: []SeedDescriptor{
			{
				Table:   "roles",
				Columns: []string{"name", "description"},
				CSV: "admin,Administrator with full access\n" +
					"collector,Owns the collection stage of a run\n" +
					"loader,Owns the load stage of a run\n" +
					"checker,Owns the check stage of a run\n" +
					"qa,Owns the QA stage of a run\n",
			},
			{
				Table:   "workflow_operations",
				Columns: []string{"code", "href", "role", "rank"},
				CSV: "collection,/runs/collection,collector,1\n" +
					"load,/runs/load,loader,2\n" +
					"check,/runs/check,checker,3\n" +
					"qa,/runs/qa,qa,4\n",
			},
		},
	}
}
