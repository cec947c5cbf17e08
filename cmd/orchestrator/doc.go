// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Command orchestrator is the executable entry point for the workflow
orchestration engine.

# Overview

cmd/orchestrator provides four operations against the core engine
(scheduler, recovery, statestore, capability): execute a workflow
definition to completion, resume one or all interrupted executions,
apply database migrations for the relational state store backend, and
report state store health. It loads YAML configuration with environment
variable overrides (package config), and structured logging via zap.

# Commands

  - execute  — load a workflow definition by id from --workflow-dir and run
    it to completion via scheduler.Runner
  - resume   — restore one (--state-id) or every (--all) active execution
    via recovery.Controller and re-enter the scheduler at its resume frontier
  - migrate  — apply/rollback/inspect schema migrations for the relational
    state store backend (delegates to internal/migration)
  - health   — open the configured state store and run its HealthCheck
  - version  — print build-time version metadata

Workflow definitions are YAML files loaded from --workflow-dir by package
registry, which is the file-backed implementation of
recovery.WorkflowProvider this binary wires in. There is no HTTP surface:
the command-line and SDK surface is treated as an external concern of the
engine, not a feature the core packages implement.
*/
package main
