package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ergochat/readline"

	"github.com/wbrunette/dataq"
	"github.com/wbrunette/dataq/dataservice"
	"github.com/wbrunette/dataq/dataservice/sqlstore"
	"github.com/wbrunette/dataq/host"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("tables"),
	readline.PcItem("create"),
	readline.PcItem("query"),
	readline.PcItem("sql"),
	readline.PcItem("row"),
	readline.PcItem("add"),
	readline.PcItem("update"),
	readline.PcItem("delete"),
	readline.PcItem("checkpoint"),
	readline.PcItem("save",
		readline.PcItem("incomplete"),
		readline.PcItem("complete"),
	),
	readline.PcItem("roles"),
	readline.PcItem("users"),
	readline.PcItem("connect"),
	readline.PcItem("disconnect"),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

type shell struct {
	store   *sqlstore.Store
	binding *host.Binding
	view    *dataq.View

	seq int
}

func (sh *shell) callback() string {
	sh.seq++
	return "cb-" + strconv.Itoa(sh.seq)
}

func (sh *shell) run() error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:          "dataq> ",
		HistoryFile:     "/tmp/dataq_history.tmp",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return err
	}
	defer l.Close()
	l.CaptureExitSignal()

	// envelopes arrive asynchronously; print them as they come
	go func() {
		for resp := range sh.binding.Responses(sh.view.Caller()) {
			fmt.Fprintln(os.Stdout, resp)
		}
	}()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if err := sh.exec(line); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
		}
	}
	sh.view.ShutdownContext("shell exiting")
	return nil
}

func (sh *shell) exec(line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "help":
		fmt.Println(helpText)
	case "tables":
		sh.view.GetAllTableIDs(sh.callback())
	case "create":
		if len(args) < 2 {
			return fmt.Errorf("usage: create <tableId> <columnsJSON>")
		}
		return sh.createTable(args[0], strings.Join(args[1:], " "))
	case "query":
		if len(args) < 1 {
			return fmt.Errorf("usage: query <tableId> [where]")
		}
		q := &dataservice.QuerySpec{}
		if len(args) > 1 {
			q.Where = strings.Join(args[1:], " ")
		}
		sh.view.Query(args[0], q, true, "", sh.callback())
	case "sql":
		if len(args) < 2 {
			return fmt.Errorf("usage: sql <tableId> <select statement>")
		}
		return sh.view.ArbitraryQuery(args[0], strings.Join(args[1:], " "), "", nil, nil, false, "", sh.callback())
	case "row":
		if len(args) != 2 {
			return fmt.Errorf("usage: row <tableId> <rowId>")
		}
		sh.view.GetRows(args[0], args[1], false, "", sh.callback())
	case "add":
		if len(args) < 3 {
			return fmt.Errorf("usage: add <tableId> <rowId> <valuesJSON>")
		}
		sh.view.AddRow(args[0], strings.Join(args[2:], " "), args[1], false, "", sh.callback())
	case "update":
		if len(args) < 3 {
			return fmt.Errorf("usage: update <tableId> <rowId> <valuesJSON>")
		}
		sh.view.UpdateRow(args[0], strings.Join(args[2:], " "), args[1], false, "", sh.callback())
	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: delete <tableId> <rowId>")
		}
		sh.view.DeleteRow(args[0], args[1], false, "", sh.callback())
	case "checkpoint":
		if len(args) < 3 {
			return fmt.Errorf("usage: checkpoint <tableId> <rowId> <valuesJSON>")
		}
		sh.view.AddCheckpoint(args[0], strings.Join(args[2:], " "), args[1], false, "", sh.callback())
	case "save":
		if len(args) != 3 {
			return fmt.Errorf("usage: save <incomplete|complete> <tableId> <rowId>")
		}
		switch args[0] {
		case "incomplete":
			sh.view.SaveCheckpointAsIncomplete(args[1], "", args[2], false, "", sh.callback())
		case "complete":
			sh.view.SaveCheckpointAsComplete(args[1], "", args[2], false, "", sh.callback())
		default:
			return fmt.Errorf("usage: save <incomplete|complete> <tableId> <rowId>")
		}
	case "roles":
		sh.view.GetRoles(sh.callback())
	case "users":
		sh.view.GetUsers(sh.callback())
	case "disconnect":
		sh.binding.SetService(nil)
		fmt.Println("data service unbound")
	case "connect":
		sh.binding.SetService(sh.store)
		fmt.Println("data service bound")
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

// createTable provisions the table synchronously; everything else goes
// through the dispatch queue.
func (sh *shell) createTable(tableID, columnsJSON string) error {
	cols := &dataservice.ColumnSet{TableID: tableID}
	if err := decodeColumns(columnsJSON, cols); err != nil {
		return err
	}
	if err := sh.store.CreateTable(context.Background(), tableID, cols); err != nil {
		return err
	}
	fmt.Printf("created %s with %d columns\n", tableID, len(cols.Defs))
	return nil
}

func decodeColumns(columnsJSON string, cols *dataservice.ColumnSet) error {
	if err := json.Unmarshal([]byte(columnsJSON), &cols.Defs); err != nil {
		return fmt.Errorf("bad column list: %w", err)
	}
	if len(cols.Defs) == 0 {
		return fmt.Errorf("column list is empty")
	}
	return nil
}

const helpText = `commands:
  tables                                  list table ids
  create <tableId> <columnsJSON>          create a user table
  query <tableId> [where]                 shaped query (use ? binds in code)
  sql <tableId> <select statement>        arbitrary query
  row <tableId> <rowId>                   full version chain of a row
  add <tableId> <rowId> <valuesJSON>      insert a row
  update <tableId> <rowId> <valuesJSON>   update a row
  delete <tableId> <rowId>                delete a row
  checkpoint <tableId> <rowId> <json>     add a checkpoint version
  save incomplete|complete <t> <rowId>    collapse checkpoints
  roles | users                           identity queries
  disconnect | connect                    toggle the data service
  exit`
