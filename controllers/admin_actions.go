package controllers

import (
	"context"
	"fmt"

	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/services"
)

// Dashboard actions, shared by the admin socket and the REST mirror.
const (
	ActionCloseTable           = "close_table"
	ActionDisableTable         = "disable_table"
	ActionEnableTable          = "enable_table"
	ActionRestoreTable         = "restore_table"
	ActionMoveTable            = "move_table"
	ActionResolveWaiterRequest = "resolve_waiter_request"
	ActionAcknowledgeOrder     = "acknowledge_order"
	ActionApproveOrder         = "approve_order"
	ActionRejectOrder          = "reject_order"
	ActionEditOrder            = "edit_order"
	ActionRetryPOS             = "retry_pos"
)

type ActionArgs struct {
	TableID   uint                   `json:"table_id"`
	ToTableID uint                   `json:"to_table_id"`
	OrderID   uint                   `json:"order_id"`
	RequestID uint                   `json:"request_id"`
	Reason    string                 `json:"reason"`
	Edits     []models.OrderLineEdit `json:"edits"`
}

// ActionResult is the reply to one dashboard action.
type ActionResult struct {
	Action    string      `json:"action"`
	RequestID string      `json:"client_request_id,omitempty"`
	OK        bool        `json:"ok"`
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

type AdminActions struct {
	Tables  *services.TableService
	Orders  *services.OrderService
	Waiters *services.WaiterService
}

// Run executes action. Upstream failures still return the updated order so
// the dashboard can show the failed state.
func (a *AdminActions) Run(ctx context.Context, admin *services.AdminPrincipal, action string, args ActionArgs) (interface{}, error) {
	switch action {
	case ActionCloseTable:
		return dataOf(a.Tables.Close(ctx, admin, args.TableID))
	case ActionDisableTable:
		return dataOf(a.Tables.Disable(ctx, admin, args.TableID))
	case ActionEnableTable:
		return dataOf(a.Tables.Enable(ctx, admin, args.TableID))
	case ActionRestoreTable:
		return dataOf(a.Tables.Restore(ctx, admin, args.TableID))
	case ActionMoveTable:
		views, err := a.Tables.Move(ctx, admin, args.TableID, args.ToTableID)
		if views == nil {
			return nil, err
		}
		return views, err
	case ActionResolveWaiterRequest:
		return dataOf(a.Waiters.Resolve(ctx, admin, args.RequestID))
	case ActionAcknowledgeOrder:
		return dataOf(a.Orders.Acknowledge(ctx, admin, args.OrderID))
	case ActionApproveOrder:
		return dataOf(a.Orders.Approve(ctx, admin, args.OrderID))
	case ActionRejectOrder:
		return dataOf(a.Orders.Reject(ctx, admin, args.OrderID, args.Reason))
	case ActionEditOrder:
		return dataOf(a.Orders.Edit(ctx, admin, args.OrderID, args.Edits))
	case ActionRetryPOS:
		return dataOf(a.Orders.RetryPOS(ctx, admin, args.OrderID))
	}
	return nil, &services.Error{
		Kind:    services.KindValidation,
		Code:    services.CodeInvalidRequest,
		Message: fmt.Sprintf("unknown action %q", action),
	}
}

// dataOf keeps a nil result untyped so it is omitted from the reply.
func dataOf[T any](v *T, err error) (interface{}, error) {
	if v == nil {
		return nil, err
	}
	return v, err
}

// Result folds the outcome of Run into an ActionResult.
func (a *AdminActions) Result(action string, data interface{}, err error) ActionResult {
	res := ActionResult{Action: action, OK: err == nil, Data: data}
	if err == nil {
		return res
	}
	if svcErr, ok := services.AsError(err); ok {
		res.Code = svcErr.Code
		res.Message = svcErr.Message
		if svcErr.Current != nil {
			res.Data = svcErr.Current
		}
		return res
	}
	res.Code = "internal_error"
	res.Message = "Internal server error"
	return res
}
