package usecase

import "github.com/bibbank/reconciliation/internal/domain/valueobject"

// Set holds every use case of one payable kind, sharing a single Core.
type Set struct {
	Kind                      valueobject.PayableKind
	RegisterPayable           *RegisterPayable
	AllocateToPayable         *AllocateToPayable
	EditAllocation            *EditAllocation
	ReverseAllocation         *ReverseAllocation
	ReversePayableAllocations *ReversePayableAllocations
	ListPayableAllocations    *ListPayableAllocations
	CreatePayment             *CreatePayment
	ImportPayments            *ImportPayments
	ImportStatement           *ImportStatement
	UpdatePayment             *UpdatePayment
	DeletePayment             *DeletePayment
	GetPayment                *GetPayment
}

func NewSet(core *Core) *Set {
	imports := NewImportPayments(core)
	return &Set{
		Kind:                      core.Kind(),
		RegisterPayable:           NewRegisterPayable(core),
		AllocateToPayable:         NewAllocateToPayable(core),
		EditAllocation:            NewEditAllocation(core),
		ReverseAllocation:         NewReverseAllocation(core),
		ReversePayableAllocations: NewReversePayableAllocations(core),
		ListPayableAllocations:    NewListPayableAllocations(core),
		CreatePayment:             NewCreatePayment(core),
		ImportPayments:            imports,
		ImportStatement:           NewImportStatement(core, imports),
		UpdatePayment:             NewUpdatePayment(core),
		DeletePayment:             NewDeletePayment(core),
		GetPayment:                NewGetPayment(core),
	}
}
