package db

// Index names on the orders table.
const (
	OrdersShopIndex = "GSI1"
	OrdersAllIndex  = "GSI2"
)

// BatchWriteLimit is the DynamoDB cap on requests per BatchWriteItem call.
const BatchWriteLimit = 25
