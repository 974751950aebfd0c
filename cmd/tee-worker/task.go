package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lagrangedao/go-tee-worker/conf"
	"github.com/lagrangedao/go-tee-worker/internal/models"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

var taskCmd = &cli.Command{
	Name:  "task",
	Usage: "Manage tasks",
	Subcommands: []*cli.Command{
		taskList,
	},
}

var taskList = &cli.Command{
	Name:  "list",
	Usage: "List in-flight tasks",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Usage:   "--verbose",
			Aliases: []string{"v"},
		},
	},
	Action: func(cctx *cli.Context) error {
		fullFlag := cctx.Bool("verbose")

		repo, err := repoPath(cctx)
		if err != nil {
			return err
		}
		if err := conf.InitConfig(repo); err != nil {
			return fmt.Errorf("load config file failed, error: %+v", err)
		}

		tasks, err := getTasksResponse(conf.GetConfig().API.Port)
		if err != nil {
			return err
		}

		var taskData [][]string
		var rowColorList []RowColor
		for number, task := range tasks {
			chainTaskId := task.ChainTaskId
			if !fullFlag && len(chainTaskId) > 14 {
				chainTaskId = chainTaskId[:8] + "..." + chainTaskId[len(chainTaskId)-6:]
			}
			taskType := "standard"
			if task.IsTeeTask {
				taskType = "tee"
			}
			taskData = append(taskData,
				[]string{chainTaskId, taskType, string(task.LastNotification), string(task.LastStatus), task.UpdatedAt.Format(time.DateTime)})

			rowColorList = append(rowColorList, RowColor{
				row:    number,
				column: []int{3},
				color:  []tablewriter.Colors{statusColor(task.LastStatus)},
			})
		}

		header := []string{"CHAIN TASK ID", "TYPE", "LAST NOTIFICATION", "LAST STATUS", "UPDATED AT"}
		fmt.Println("")
		NewVisualTable(header, taskData, rowColorList).Generate()
		return nil
	},
}

func statusColor(status models.ReplicateStatus) tablewriter.Colors {
	switch {
	case status == "":
		return tablewriter.Colors{tablewriter.Bold, tablewriter.FgYellowColor}
	case status.IsFailure():
		return tablewriter.Colors{tablewriter.Bold, tablewriter.FgRedColor}
	default:
		return tablewriter.Colors{tablewriter.Bold, tablewriter.FgGreenColor}
	}
}

type tasksResp struct {
	Data    []models.TaskSummary `json:"data"`
	Message string               `json:"message"`
	Status  string               `json:"status"`
}

func getTasksResponse(port int) ([]models.TaskSummary, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d/tasks", port)
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("request failed, is the worker running? error: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker api returned %d: %s", resp.StatusCode, string(body))
	}

	var tasks tasksResp
	if err = json.Unmarshal(body, &tasks); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %v", err)
	}
	return tasks.Data, nil
}
