package rest

type addItemDto struct {
	ProductRef string `json:"product_ref"`
	VariantID  string `json:"variant_id" validate:"required"`
	Quantity   int32  `json:"quantity" validate:"gt=0"`
}

type updateItemDto struct {
	Quantity int32 `json:"quantity" validate:"gt=0"`
}

type deliveryTypeDto struct {
	Type string `json:"type" validate:"required,oneof=COURIER PICKUP"`
}

type addressDto struct {
	Address string `json:"address" validate:"required"`
}

type recipientDto struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone" validate:"required"`
	Email     string `json:"email" validate:"omitempty,email"`
}

type pointSearchDto struct {
	Location string `json:"location" validate:"required"`
}

type pointDto struct {
	ID string `json:"id" validate:"required"`
}

type offerDto struct {
	OfferID string `json:"offer_id" validate:"required"`
}

type emailDto struct {
	Email string `json:"email" validate:"required,email"`
}

type linkDto struct {
	ReceiptEmail    string `json:"receipt_email" validate:"omitempty,email"`
	SendEmail       bool   `json:"send_email"`
	EmailTo         string `json:"email_to" validate:"omitempty,email"`
	CopyToClipboard bool   `json:"copy_to_clipboard"`
}

type statusDto struct {
	Status string `json:"status" validate:"required"`
}

type adjustmentDto struct {
	Delta  int64  `json:"delta" validate:"ne=0"`
	Reason string `json:"reason" validate:"required"`
}

type clipboardDto struct {
	Text string `json:"text"`
}
