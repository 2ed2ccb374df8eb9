package sheets

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/taxwise-partners/sp-estimator/internal/model"
)

// Backend actions.
const (
	ActionSetInputs          = "setInputs"
	ActionWriteFormula       = "writeFormula"
	ActionSetValue           = "setValue"
	ActionForceRecalc        = "forceRecalc"
	ActionCleanup            = "cleanup"
	ActionCleanupLimited     = "cleanupLimited"
	ActionRunScenario        = "runScenario"
	ActionDeleteWorkingCopy  = "deleteWorkingCopy"
	ActionCreateFolder       = "createFolder"
	ActionCreateWorkingCopy  = "createWorkingCopy"
	ActionCreateWorkbookCopy = "createWorkbookCopy"
	ActionGetOutputs         = "getOutputs"
	ActionGetValue           = "getValue"
)

type handlePayload struct {
	WorkingCopyID string `json:"workingCopyId"`
}

type cellValuePayload struct {
	Cell          string `json:"cell"`
	Value         any    `json:"value"`
	WorkingCopyID string `json:"workingCopyId"`
}

type cellFormulaPayload struct {
	Cell          string `json:"cell"`
	Formula       string `json:"formula"`
	WorkingCopyID string `json:"workingCopyId"`
}

type functionPayload struct {
	Function      string `json:"function"`
	WorkingCopyID string `json:"workingCopyId"`
}

type inputsPayload struct {
	model.UserInputs
	WorkingCopyID string `json:"workingCopyId"`
}

// write posts a mutation and waits for the backend to settle.
func (c *Client) write(ctx context.Context, action string, payload any) error {
	if err := c.post(ctx, action, payload); err != nil {
		return err
	}
	return c.settler.Settle(ctx)
}

// SetCellValue writes a literal value into cell.
func (c *Client) SetCellValue(ctx context.Context, h model.WorkingCopyHandle, cell string, value any) error {
	return c.write(ctx, ActionSetValue, cellValuePayload{Cell: cell, Value: value, WorkingCopyID: h.ID})
}

// SetCellFormula writes a formula into cell.
func (c *Client) SetCellFormula(ctx context.Context, h model.WorkingCopyHandle, cell, formula string) error {
	return c.write(ctx, ActionWriteFormula, cellFormulaPayload{Cell: cell, Formula: formula, WorkingCopyID: h.ID})
}

// InvokeNamedFunction runs a server-side solver function on the working copy.
func (c *Client) InvokeNamedFunction(ctx context.Context, h model.WorkingCopyHandle, name string) error {
	return c.write(ctx, ActionRunScenario, functionPayload{Function: name, WorkingCopyID: h.ID})
}

func (c *Client) ForceRecalculate(ctx context.Context, h model.WorkingCopyHandle) error {
	return c.write(ctx, ActionForceRecalc, handlePayload{WorkingCopyID: h.ID})
}

// Cleanup zeroes every input-coloured cell.
func (c *Client) Cleanup(ctx context.Context, h model.WorkingCopyHandle) error {
	return c.write(ctx, ActionCleanup, handlePayload{WorkingCopyID: h.ID})
}

// CleanupLimited zeroes the scenario-specific cells only.
func (c *Client) CleanupLimited(ctx context.Context, h model.WorkingCopyHandle) error {
	return c.write(ctx, ActionCleanupLimited, handlePayload{WorkingCopyID: h.ID})
}

func (c *Client) SetUserInputs(ctx context.Context, h model.WorkingCopyHandle, in model.UserInputs) error {
	return c.write(ctx, ActionSetInputs, inputsPayload{UserInputs: in, WorkingCopyID: h.ID})
}

func (c *Client) DeleteWorkingCopy(ctx context.Context, h model.WorkingCopyHandle) error {
	return c.write(ctx, ActionDeleteWorkingCopy, handlePayload{WorkingCopyID: h.ID})
}

// ReadOutputs forces a recalculation and reads the output triple.
func (c *Client) ReadOutputs(ctx context.Context, h model.WorkingCopyHandle) (model.ScenarioOutput, error) {
	if err := c.ForceRecalculate(ctx, h); err != nil {
		return model.ScenarioOutput{}, err
	}

	var out model.ScenarioOutput
	if err := c.get(ctx, ActionGetOutputs, map[string]string{"workingCopyId": h.ID}, &out); err != nil {
		return model.ScenarioOutput{}, err
	}
	return out, nil
}

// ReadCellValue forces a recalculation and reads one numeric cell.
func (c *Client) ReadCellValue(ctx context.Context, h model.WorkingCopyHandle, cell string) (float64, error) {
	if err := c.ForceRecalculate(ctx, h); err != nil {
		return 0, err
	}

	var resp struct {
		Value json.RawMessage `json:"value"`
	}
	params := map[string]string{"cell": cell, "workingCopyId": h.ID}
	if err := c.get(ctx, ActionGetValue, params, &resp); err != nil {
		return 0, err
	}

	v, err := cellNumber(resp.Value)
	if err != nil {
		return 0, &TransportError{Action: ActionGetValue, Status: 200, Err: fmt.Errorf("cell %s: %w", cell, err)}
	}
	return v, nil
}

// cellNumber accepts a JSON number, a numeric string, or an empty/null cell
// (read as zero, which is how the sheet evaluates blanks).
func cellNumber(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("unexpected value %s", raw)
	}
	if s == "" {
		return 0, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	return model.ParseCurrency(s)
}

// CreateFolder creates the per-analysis folder.
func (c *Client) CreateFolder(ctx context.Context, in model.UserInputs) (model.Folder, error) {
	encoded, err := json.Marshal(in)
	if err != nil {
		return model.Folder{}, fmt.Errorf("encode inputs: %w", err)
	}

	var f model.Folder
	if err := c.get(ctx, ActionCreateFolder, map[string]string{"userInputs": string(encoded)}, &f); err != nil {
		return model.Folder{}, err
	}
	if f.ID == "" {
		return model.Folder{}, &TransportError{Action: ActionCreateFolder, Status: 200, Err: fmt.Errorf("response missing folderId")}
	}
	return f, c.settler.Settle(ctx)
}

// CreateWorkingCopy copies the master workbook into folderID.
func (c *Client) CreateWorkingCopy(ctx context.Context, folderID string) (model.WorkingCopyHandle, error) {
	var h model.WorkingCopyHandle
	if err := c.get(ctx, ActionCreateWorkingCopy, map[string]string{"folderId": folderID}, &h); err != nil {
		return model.WorkingCopyHandle{}, err
	}
	if h.ID == "" {
		return model.WorkingCopyHandle{}, &TransportError{Action: ActionCreateWorkingCopy, Status: 200, Err: fmt.Errorf("response missing workingCopyId")}
	}
	return h, c.settler.Settle(ctx)
}

// SaveSnapshot saves a full copy of the workbook for scenario.
func (c *Client) SaveSnapshot(ctx context.Context, scenario int, in model.UserInputs) (model.Snapshot, error) {
	encoded, err := json.Marshal(in)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("encode inputs: %w", err)
	}

	params := map[string]string{
		"scenarioNumber": strconv.Itoa(scenario),
		"userInputs":     string(encoded),
	}
	var s model.Snapshot
	if err := c.get(ctx, ActionCreateWorkbookCopy, params, &s); err != nil {
		return model.Snapshot{}, err
	}

	if s.FolderURL != "" {
		c.logger.Info("saved workbook snapshot", "scenario", scenario, "folder_url", s.FolderURL, "file_url", s.FileURL)
	} else {
		c.logger.Warn("workbook snapshot returned no url", "scenario", scenario)
	}
	return s, c.settler.Settle(ctx)
}
