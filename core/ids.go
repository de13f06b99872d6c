package core

import "github.com/google/uuid"

func NewRecordID() RecordID         { return RecordID(uuid.NewString()) }
func NewAdjustmentID() AdjustmentID { return AdjustmentID(uuid.NewString()) }
func NewHolidayID() HolidayID       { return HolidayID(uuid.NewString()) }
func NewPolicyID() PolicyID         { return PolicyID(uuid.NewString()) }
